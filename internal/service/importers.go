package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/provider"
	"github.com/vipul43/ledgersync/internal/xero"
)

// Importer runs one entity import job.
type Importer interface {
	Entity() models.EntityType
	Import(ctx context.Context, payload models.JobPayload) (*ImportResult, error)
}

func listParams(page, pageSize int, since *time.Time, where string) xero.ListParams {
	return xero.ListParams{Page: page, PageSize: pageSize, ModifiedSince: since, Where: where}
}

func payloadMismatch(entity models.EntityType, payload models.JobPayload) error {
	return fmt.Errorf("%w: %s importer got %s payload", ErrUnknownJob, entity, payload.Kind)
}

// metaChanged reports whether the provider changed a record since it was
// stored. Without timestamps on both sides the record counts as changed.
func metaChanged(existing, incoming *models.RecordMeta) bool {
	if existing.ProviderUpdatedAt == nil || incoming.ProviderUpdatedAt == nil {
		return true
	}
	return !existing.ProviderUpdatedAt.Equal(*incoming.ProviderUpdatedAt)
}

type AccountImporter struct {
	pipeline *Pipeline
	api      ProviderAPI
	store    RecordStore[*models.LedgerAccount]
}

func NewAccountImporter(pipeline *Pipeline, api ProviderAPI, store RecordStore[*models.LedgerAccount]) *AccountImporter {
	return &AccountImporter{pipeline: pipeline, api: api, store: store}
}

func (i *AccountImporter) Entity() models.EntityType { return models.EntityAccounts }

func (i *AccountImporter) Import(ctx context.Context, payload models.JobPayload) (*ImportResult, error) {
	if payload.Accounts == nil {
		return nil, payloadMismatch(i.Entity(), payload)
	}
	scope := payload.Accounts.ImportScope

	return runImport(ctx, i.pipeline, scope, entityImport[xero.Account, *models.LedgerAccount]{
		entity:   models.EntityAccounts,
		strategy: upsert,
		fetch: func(ctx context.Context, creds provider.Credentials, page, pageSize int) ([]xero.Account, error) {
			return i.api.ListAccounts(ctx, creds.AccessToken, creds.ProviderTenantID, listParams(page, pageSize, scope.ModifiedSince, ""))
		},
		remoteID: func(a xero.Account) string { return a.AccountID },
		mapper:   MapAccount,
		store:    i.store,
		changed: func(existing, incoming *models.LedgerAccount) bool {
			return metaChanged(&existing.RecordMeta, &incoming.RecordMeta) || existing.Status != incoming.Status
		},
	})
}

type SupplierImporter struct {
	pipeline *Pipeline
	api      ProviderAPI
	store    RecordStore[*models.Supplier]
}

func NewSupplierImporter(pipeline *Pipeline, api ProviderAPI, store RecordStore[*models.Supplier]) *SupplierImporter {
	return &SupplierImporter{pipeline: pipeline, api: api, store: store}
}

func (i *SupplierImporter) Entity() models.EntityType { return models.EntitySuppliers }

func (i *SupplierImporter) Import(ctx context.Context, payload models.JobPayload) (*ImportResult, error) {
	if payload.Suppliers == nil {
		return nil, payloadMismatch(i.Entity(), payload)
	}
	scope := payload.Suppliers.ImportScope

	return runImport(ctx, i.pipeline, scope, entityImport[xero.Contact, *models.Supplier]{
		entity:   models.EntitySuppliers,
		strategy: upsert,
		fetch: func(ctx context.Context, creds provider.Credentials, page, pageSize int) ([]xero.Contact, error) {
			return i.api.ListContacts(ctx, creds.AccessToken, creds.ProviderTenantID, listParams(page, pageSize, scope.ModifiedSince, ""))
		},
		remoteID: func(c xero.Contact) string { return c.ContactID },
		mapper:   MapSupplier,
		store:    i.store,
		changed: func(existing, incoming *models.Supplier) bool {
			return metaChanged(&existing.RecordMeta, &incoming.RecordMeta) || existing.Status != incoming.Status
		},
	})
}

// InvoiceImporter upserts invoices. Besides the external id, a stored invoice
// matches by number when it has the same type and carries no external id of
// its own, which links invoices entered locally before the integration
// existed. A stored row that is already linked never matches by number.
type InvoiceImporter struct {
	pipeline *Pipeline
	api      ProviderAPI
	store    InvoiceStore
}

func NewInvoiceImporter(pipeline *Pipeline, api ProviderAPI, store InvoiceStore) *InvoiceImporter {
	return &InvoiceImporter{pipeline: pipeline, api: api, store: store}
}

func (i *InvoiceImporter) Entity() models.EntityType { return models.EntityInvoices }

func (i *InvoiceImporter) Import(ctx context.Context, payload models.JobPayload) (*ImportResult, error) {
	p := payload.Invoices
	if p == nil {
		return nil, payloadMismatch(i.Entity(), payload)
	}
	where := invoiceWhere(p.Types, p.DateFrom, p.DateTo)

	return runImport(ctx, i.pipeline, p.ImportScope, entityImport[xero.Invoice, *models.Invoice]{
		entity:   models.EntityInvoices,
		strategy: upsert,
		fetch: func(ctx context.Context, creds provider.Credentials, page, pageSize int) ([]xero.Invoice, error) {
			return i.api.ListInvoices(ctx, creds.AccessToken, creds.ProviderTenantID, listParams(page, pageSize, p.ModifiedSince, where))
		},
		remoteID: func(inv xero.Invoice) string {
			if inv.InvoiceID != "" {
				return inv.InvoiceID
			}
			return inv.InvoiceNumber
		},
		mapper:    MapInvoice,
		store:     i.store,
		changed:   invoiceChanged,
		secondary: i.matchByNumber,
	})
}

func invoiceChanged(existing, incoming *models.Invoice) bool {
	if existing.ExternalID == nil && incoming.ExternalID != nil {
		return true
	}
	return metaChanged(&existing.RecordMeta, &incoming.RecordMeta) ||
		existing.Status != incoming.Status ||
		existing.AmountDue != incoming.AmountDue
}

func (i *InvoiceImporter) matchByNumber(ctx context.Context, tenantID string, unmatched []*models.Invoice) (map[int]*models.Invoice, error) {
	var numbers []string
	for _, inv := range unmatched {
		if inv.InvoiceNumber != nil {
			numbers = append(numbers, *inv.InvoiceNumber)
		}
	}
	if len(numbers) == 0 {
		return nil, nil
	}

	stored, err := i.store.FindByNumbers(ctx, tenantID, numbers)
	if err != nil {
		return nil, err
	}

	found := make(map[int]*models.Invoice)
	for idx, inv := range unmatched {
		if inv.InvoiceNumber == nil {
			continue
		}
		for _, s := range stored {
			if s.InvoiceNumber == nil || *s.InvoiceNumber != *inv.InvoiceNumber || s.Type != inv.Type {
				continue
			}
			// a row already linked to a provider id only matches that id
			if s.ExternalID != nil && (inv.ExternalID == nil || *s.ExternalID != *inv.ExternalID) {
				continue
			}
			found[idx] = s
			break
		}
	}
	return found, nil
}

func invoiceWhere(types []string, from, to *time.Time) string {
	var clauses []string
	if len(types) > 0 {
		parts := make([]string, len(types))
		for i, t := range types {
			parts[i] = fmt.Sprintf("Type==%q", t)
		}
		if len(parts) == 1 {
			clauses = append(clauses, parts[0])
		} else {
			clauses = append(clauses, "("+strings.Join(parts, " OR ")+")")
		}
	}
	clauses = append(clauses, dateWhere(from, to)...)
	return strings.Join(clauses, " AND ")
}

func dateWhere(from, to *time.Time) []string {
	var clauses []string
	if from != nil {
		clauses = append(clauses, "Date>="+xeroDate(*from))
	}
	if to != nil {
		clauses = append(clauses, "Date<="+xeroDate(*to))
	}
	return clauses
}

func xeroDate(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("DateTime(%d,%02d,%02d)", t.Year(), t.Month(), t.Day())
}

// BankTransactionImporter is create-only: a stored bank transaction is a
// ledger fact and is never rewritten by a later import.
type BankTransactionImporter struct {
	pipeline *Pipeline
	api      ProviderAPI
	store    RecordStore[*models.BankTransaction]
}

func NewBankTransactionImporter(pipeline *Pipeline, api ProviderAPI, store RecordStore[*models.BankTransaction]) *BankTransactionImporter {
	return &BankTransactionImporter{pipeline: pipeline, api: api, store: store}
}

func (i *BankTransactionImporter) Entity() models.EntityType { return models.EntityBankTransactions }

func (i *BankTransactionImporter) Import(ctx context.Context, payload models.JobPayload) (*ImportResult, error) {
	p := payload.BankTransactions
	if p == nil {
		return nil, payloadMismatch(i.Entity(), payload)
	}
	where := strings.Join(dateWhere(p.DateFrom, p.DateTo), " AND ")

	return runImport(ctx, i.pipeline, p.ImportScope, entityImport[xero.BankTransaction, *models.BankTransaction]{
		entity:   models.EntityBankTransactions,
		strategy: createOnly,
		fetch: func(ctx context.Context, creds provider.Credentials, page, pageSize int) ([]xero.BankTransaction, error) {
			return i.api.ListBankTransactions(ctx, creds.AccessToken, creds.ProviderTenantID, listParams(page, pageSize, p.ModifiedSince, where))
		},
		remoteID: func(tx xero.BankTransaction) string { return tx.BankTransactionID },
		mapper:   MapBankTransaction,
		store:    i.store,
	})
}

// ManualJournalImporter is create-only, like bank transactions.
type ManualJournalImporter struct {
	pipeline *Pipeline
	api      ProviderAPI
	store    RecordStore[*models.ManualJournal]
}

func NewManualJournalImporter(pipeline *Pipeline, api ProviderAPI, store RecordStore[*models.ManualJournal]) *ManualJournalImporter {
	return &ManualJournalImporter{pipeline: pipeline, api: api, store: store}
}

func (i *ManualJournalImporter) Entity() models.EntityType { return models.EntityManualJournals }

func (i *ManualJournalImporter) Import(ctx context.Context, payload models.JobPayload) (*ImportResult, error) {
	p := payload.ManualJournals
	if p == nil {
		return nil, payloadMismatch(i.Entity(), payload)
	}

	return runImport(ctx, i.pipeline, p.ImportScope, entityImport[xero.ManualJournal, *models.ManualJournal]{
		entity:   models.EntityManualJournals,
		strategy: createOnly,
		fetch: func(ctx context.Context, creds provider.Credentials, page, pageSize int) ([]xero.ManualJournal, error) {
			return i.api.ListManualJournals(ctx, creds.AccessToken, creds.ProviderTenantID, listParams(page, pageSize, p.ModifiedSince, ""))
		},
		remoteID: func(mj xero.ManualJournal) string { return mj.ManualJournalID },
		mapper:   MapManualJournal,
		store:    i.store,
	})
}
