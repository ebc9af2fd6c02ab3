package service

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// LookupMaps are read-only indices over the tenant's accounts and suppliers,
// built once per importer run.
type LookupMaps struct {
	accountsByCode        map[string]string
	accountsByExternalID  map[string]string
	accountsByName        map[string]string
	suppliersByExternalID map[string]string
	suppliersByName       map[string]string
}

type LookupService struct {
	store LookupStore
}

func NewLookupService(store LookupStore) *LookupService {
	return &LookupService{store: store}
}

// BuildLookupMaps loads the tenant's accounts and suppliers for provider.
func (s *LookupService) BuildLookupMaps(ctx context.Context, tenantID, provider string) (*LookupMaps, error) {
	accounts, err := s.store.ListAccountRefs(ctx, tenantID, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	suppliers, err := s.store.ListSupplierRefs(ctx, tenantID, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to load suppliers: %w", err)
	}

	m := &LookupMaps{
		accountsByCode:        make(map[string]string, len(accounts)),
		accountsByExternalID:  make(map[string]string, len(accounts)),
		suppliersByExternalID: make(map[string]string, len(suppliers)),
	}

	accountNames := newNameIndex()
	for _, a := range accounts {
		if a.Code != nil && *a.Code != "" {
			m.accountsByCode[strings.TrimSpace(*a.Code)] = a.ID
		}
		if a.ExternalID != nil && *a.ExternalID != "" {
			m.accountsByExternalID[*a.ExternalID] = a.ID
		}
		accountNames.add(a.Name, a.ID)
	}
	m.accountsByName = accountNames.ids

	supplierNames := newNameIndex()
	for _, sup := range suppliers {
		if sup.ExternalID != nil && *sup.ExternalID != "" {
			m.suppliersByExternalID[*sup.ExternalID] = sup.ID
		}
		supplierNames.add(sup.Name, sup.ID)
	}
	m.suppliersByName = supplierNames.ids

	return m, nil
}

// FindSupplierID resolves a supplier by provider id, then by normalized name.
// A miss is not an error.
func (m *LookupMaps) FindSupplierID(externalID, displayName string) (string, bool) {
	if m == nil {
		return "", false
	}
	if externalID != "" {
		if id, ok := m.suppliersByExternalID[externalID]; ok {
			return id, true
		}
	}
	if key := NormalizeName(displayName); key != "" {
		if id, ok := m.suppliersByName[key]; ok {
			return id, true
		}
	}
	return "", false
}

// FindAccountID resolves an account by code, then by normalized name.
func (m *LookupMaps) FindAccountID(code, name string) (string, bool) {
	if m == nil {
		return "", false
	}
	if code = strings.TrimSpace(code); code != "" {
		if id, ok := m.accountsByCode[code]; ok {
			return id, true
		}
	}
	if key := NormalizeName(name); key != "" {
		if id, ok := m.accountsByName[key]; ok {
			return id, true
		}
	}
	return "", false
}

// FindAccountByExternalID resolves an account by provider id, falling back to
// its code.
func (m *LookupMaps) FindAccountByExternalID(externalID, code string) (string, bool) {
	if m == nil {
		return "", false
	}
	if externalID != "" {
		if id, ok := m.accountsByExternalID[externalID]; ok {
			return id, true
		}
	}
	return m.FindAccountID(code, "")
}

// nameIndex maps normalized names to ids. A name shared by two different
// records is ambiguous and is left out.
type nameIndex struct {
	ids       map[string]string
	ambiguous map[string]bool
}

func newNameIndex() *nameIndex {
	return &nameIndex{ids: make(map[string]string), ambiguous: make(map[string]bool)}
}

func (n *nameIndex) add(name, id string) {
	key := NormalizeName(name)
	if key == "" || n.ambiguous[key] {
		return
	}
	if existing, ok := n.ids[key]; ok && existing != id {
		delete(n.ids, key)
		n.ambiguous[key] = true
		return
	}
	n.ids[key] = id
}

// NormalizeName folds a display name for fuzzy matching: accents removed,
// lowercased, everything but letters and digits stripped.
func NormalizeName(name string) string {
	if name == "" {
		return ""
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
