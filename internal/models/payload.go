package models

import (
	"errors"
	"fmt"
	"time"
)

// JobKind tags the variant carried by a JobPayload.
type JobKind string

const (
	JobKindSync             JobKind = "sync"
	JobKindAccounts         JobKind = JobKind(EntityAccounts)
	JobKindSuppliers        JobKind = JobKind(EntitySuppliers)
	JobKindInvoices         JobKind = JobKind(EntityInvoices)
	JobKindBankTransactions JobKind = JobKind(EntityBankTransactions)
	JobKindManualJournals   JobKind = JobKind(EntityManualJournals)
)

// JobPayload is a tagged union: Kind names the one non-nil variant.
type JobPayload struct {
	Kind             JobKind                  `json:"kind"`
	Sync             *SyncPayload             `json:"sync,omitempty"`
	Accounts         *AccountsPayload         `json:"accounts,omitempty"`
	Suppliers        *SuppliersPayload        `json:"suppliers,omitempty"`
	Invoices         *InvoicesPayload         `json:"invoices,omitempty"`
	BankTransactions *BankTransactionsPayload `json:"bankTransactions,omitempty"`
	ManualJournals   *ManualJournalsPayload   `json:"manualJournals,omitempty"`
}

type SyncPayload struct {
	SyncJobID string `json:"syncJobId"`
}

// ImportScope identifies what an entity import runs against.
type ImportScope struct {
	SyncJobID     string      `json:"syncJobId"`
	IntegrationID string      `json:"integrationId"`
	TenantID      string      `json:"tenantId"`
	JobType       SyncJobType `json:"jobType"`
	// ModifiedSince is the incremental watermark; nil fetches everything.
	ModifiedSince *time.Time `json:"modifiedSince,omitempty"`
}

type AccountsPayload struct {
	ImportScope
}

type SuppliersPayload struct {
	ImportScope
}

type InvoicesPayload struct {
	ImportScope
	Types    []string   `json:"types,omitempty"`
	DateFrom *time.Time `json:"dateFrom,omitempty"`
	DateTo   *time.Time `json:"dateTo,omitempty"`
}

type BankTransactionsPayload struct {
	ImportScope
	DateFrom *time.Time `json:"dateFrom,omitempty"`
	DateTo   *time.Time `json:"dateTo,omitempty"`
}

type ManualJournalsPayload struct {
	ImportScope
}

// Invoice types accepted by the invoice importer filter.
const (
	InvoiceTypeAccPay = "ACCPAY"
	InvoiceTypeAccRec = "ACCREC"
)

var errInvalidPayload = errors.New("invalid job payload")

func NewSyncPayload(syncJobID string) JobPayload {
	return JobPayload{Kind: JobKindSync, Sync: &SyncPayload{SyncJobID: syncJobID}}
}

// NewImportPayload builds the payload of one entity import, carrying only
// the options that entity's importer reads.
func NewImportPayload(entity EntityType, scope ImportScope, opts SyncOptions) (JobPayload, error) {
	p := JobPayload{Kind: JobKind(entity)}
	switch entity {
	case EntityAccounts:
		p.Accounts = &AccountsPayload{ImportScope: scope}
	case EntitySuppliers:
		p.Suppliers = &SuppliersPayload{ImportScope: scope}
	case EntityInvoices:
		p.Invoices = &InvoicesPayload{ImportScope: scope, Types: opts.InvoiceTypes, DateFrom: opts.DateFrom, DateTo: opts.DateTo}
	case EntityBankTransactions:
		p.BankTransactions = &BankTransactionsPayload{ImportScope: scope, DateFrom: opts.DateFrom, DateTo: opts.DateTo}
	case EntityManualJournals:
		p.ManualJournals = &ManualJournalsPayload{ImportScope: scope}
	default:
		return JobPayload{}, fmt.Errorf("%w: unknown entity %q", errInvalidPayload, entity)
	}
	return p, p.Validate()
}

// Validate checks the union is well formed. It runs at enqueue time so a bad
// payload never reaches a worker.
func (p JobPayload) Validate() error {
	set := 0
	for _, present := range []bool{
		p.Sync != nil, p.Accounts != nil, p.Suppliers != nil,
		p.Invoices != nil, p.BankTransactions != nil, p.ManualJournals != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: expected exactly one variant, got %d", errInvalidPayload, set)
	}

	switch p.Kind {
	case JobKindSync:
		if p.Sync == nil {
			return fmt.Errorf("%w: kind %s without sync variant", errInvalidPayload, p.Kind)
		}
		if p.Sync.SyncJobID == "" {
			return fmt.Errorf("%w: sync job id is required", errInvalidPayload)
		}
		return nil
	case JobKindInvoices:
		if p.Invoices == nil {
			break
		}
		for _, t := range p.Invoices.Types {
			if t != InvoiceTypeAccPay && t != InvoiceTypeAccRec {
				return fmt.Errorf("%w: unknown invoice type %q", errInvalidPayload, t)
			}
		}
		if err := validateRange(p.Invoices.DateFrom, p.Invoices.DateTo); err != nil {
			return err
		}
	case JobKindBankTransactions:
		if p.BankTransactions == nil {
			break
		}
		if err := validateRange(p.BankTransactions.DateFrom, p.BankTransactions.DateTo); err != nil {
			return err
		}
	}

	scope, ok := p.Scope()
	if !ok {
		return fmt.Errorf("%w: kind %s does not match its variant", errInvalidPayload, p.Kind)
	}
	if scope.SyncJobID == "" || scope.IntegrationID == "" || scope.TenantID == "" {
		return fmt.Errorf("%w: sync job, integration and tenant ids are required", errInvalidPayload)
	}
	return nil
}

// Entity returns the entity an import payload targets.
func (p JobPayload) Entity() (EntityType, bool) {
	if p.Kind == JobKindSync {
		return "", false
	}
	e := EntityType(p.Kind)
	return e, e.Valid()
}

// Scope returns the import scope of the variant matching Kind.
func (p JobPayload) Scope() (ImportScope, bool) {
	switch {
	case p.Kind == JobKindAccounts && p.Accounts != nil:
		return p.Accounts.ImportScope, true
	case p.Kind == JobKindSuppliers && p.Suppliers != nil:
		return p.Suppliers.ImportScope, true
	case p.Kind == JobKindInvoices && p.Invoices != nil:
		return p.Invoices.ImportScope, true
	case p.Kind == JobKindBankTransactions && p.BankTransactions != nil:
		return p.BankTransactions.ImportScope, true
	case p.Kind == JobKindManualJournals && p.ManualJournals != nil:
		return p.ManualJournals.ImportScope, true
	}
	return ImportScope{}, false
}

func validateRange(from, to *time.Time) error {
	if from != nil && to != nil && to.Before(*from) {
		return fmt.Errorf("%w: date range ends before it starts", errInvalidPayload)
	}
	return nil
}

func IsInvalidPayload(err error) bool {
	return errors.Is(err, errInvalidPayload)
}
