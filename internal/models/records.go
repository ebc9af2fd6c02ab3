package models

import (
	"time"

	"gorm.io/datatypes"
)

// RecordMeta holds the columns every imported record carries. Within a
// tenant both external_id and dedup_key are unique.
type RecordMeta struct {
	ID                string     `gorm:"column:id;primaryKey"`
	TenantID          string     `gorm:"column:tenant_id;index"`
	IntegrationID     string     `gorm:"column:integration_id"`
	Provider          string     `gorm:"column:provider"`
	ExternalID        *string    `gorm:"column:external_id"`
	DedupKey          string     `gorm:"column:dedup_key"`
	ImportBatchID     string     `gorm:"column:import_batch_id"`
	ProviderUpdatedAt *time.Time `gorm:"column:provider_updated_at"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

func (m *RecordMeta) Meta() *RecordMeta { return m }

// ExternalRef returns the provider id, or "" when the provider sent none.
func (m *RecordMeta) ExternalRef() string {
	if m.ExternalID == nil {
		return ""
	}
	return *m.ExternalID
}

// Record is implemented by pointers to every imported entity model.
type Record interface {
	Meta() *RecordMeta
}

// LedgerAccount is a chart-of-accounts entry. Bank accounts are ledger
// accounts with Type BANK.
type LedgerAccount struct {
	RecordMeta
	Code              *string `gorm:"column:code"`
	Name              string  `gorm:"column:name"`
	Type              string  `gorm:"column:type"`
	Class             string  `gorm:"column:class"`
	Status            string  `gorm:"column:status"`
	TaxType           *string `gorm:"column:tax_type"`
	Description       *string `gorm:"column:description"`
	BankAccountNumber *string `gorm:"column:bank_account_number"`
	CurrencyCode      *string `gorm:"column:currency_code"`
}

// TableName specifies the table name for GORM
func (LedgerAccount) TableName() string {
	return "ledger_account"
}

type Supplier struct {
	RecordMeta
	Name          string  `gorm:"column:name"`
	EmailAddress  *string `gorm:"column:email_address"`
	TaxNumber     *string `gorm:"column:tax_number"`
	AccountNumber *string `gorm:"column:account_number"`
	Status        string  `gorm:"column:status"`
	CurrencyCode  *string `gorm:"column:currency_code"`
}

// TableName specifies the table name for GORM
func (Supplier) TableName() string {
	return "supplier"
}

type InvoiceLine struct {
	Description string   `json:"description,omitempty"`
	Quantity    float64  `json:"quantity"`
	UnitAmount  float64  `json:"unitAmount"`
	LineAmount  float64  `json:"lineAmount"`
	AccountCode string   `json:"accountCode,omitempty"`
	AccountID   *string  `json:"accountId,omitempty"`
	TaxType     string   `json:"taxType,omitempty"`
	TaxAmount   *float64 `json:"taxAmount,omitempty"`
}

type Invoice struct {
	RecordMeta
	InvoiceNumber     *string                           `gorm:"column:invoice_number"`
	Type              string                            `gorm:"column:type"`
	Status            string                            `gorm:"column:status"`
	SupplierID        *string                           `gorm:"column:supplier_id"`
	ContactExternalID *string                           `gorm:"column:contact_external_id"`
	ContactName       *string                           `gorm:"column:contact_name"`
	Reference         *string                           `gorm:"column:reference"`
	Date              *time.Time                        `gorm:"column:date"`
	DueDate           *time.Time                        `gorm:"column:due_date"`
	CurrencyCode      *string                           `gorm:"column:currency_code"`
	SubTotal          float64                           `gorm:"column:sub_total"`
	TotalTax          float64                           `gorm:"column:total_tax"`
	Total             float64                           `gorm:"column:total"`
	AmountDue         float64                           `gorm:"column:amount_due"`
	AmountPaid        float64                           `gorm:"column:amount_paid"`
	LineItems         datatypes.JSONType[[]InvoiceLine] `gorm:"column:line_items;type:jsonb"`
}

// TableName specifies the table name for GORM
func (Invoice) TableName() string {
	return "invoice"
}

type BankTransaction struct {
	RecordMeta
	Type                  string                            `gorm:"column:type"`
	Status                string                            `gorm:"column:status"`
	BankAccountID         *string                           `gorm:"column:bank_account_id"`
	BankAccountExternalID *string                           `gorm:"column:bank_account_external_id"`
	SupplierID            *string                           `gorm:"column:supplier_id"`
	ContactName           *string                           `gorm:"column:contact_name"`
	Date                  time.Time                         `gorm:"column:date"`
	Reference             *string                           `gorm:"column:reference"`
	CurrencyCode          *string                           `gorm:"column:currency_code"`
	Total                 float64                           `gorm:"column:total"`
	IsReconciled          bool                              `gorm:"column:is_reconciled"`
	LineItems             datatypes.JSONType[[]InvoiceLine] `gorm:"column:line_items;type:jsonb"`
}

// TableName specifies the table name for GORM
func (BankTransaction) TableName() string {
	return "bank_transaction"
}

type JournalLine struct {
	AccountCode string  `json:"accountCode"`
	AccountID   *string `json:"accountId,omitempty"`
	Description string  `json:"description,omitempty"`
	LineAmount  float64 `json:"lineAmount"`
	TaxType     string  `json:"taxType,omitempty"`
}

type ManualJournal struct {
	RecordMeta
	Narration string                            `gorm:"column:narration"`
	Date      time.Time                         `gorm:"column:date"`
	Status    string                            `gorm:"column:status"`
	Lines     datatypes.JSONType[[]JournalLine] `gorm:"column:lines;type:jsonb"`
}

// TableName specifies the table name for GORM
func (ManualJournal) TableName() string {
	return "manual_journal"
}

// AccountRef is the slice of a ledger account the lookup maps index.
type AccountRef struct {
	ID         string  `gorm:"column:id"`
	Code       *string `gorm:"column:code"`
	ExternalID *string `gorm:"column:external_id"`
	Name       string  `gorm:"column:name"`
	Type       string  `gorm:"column:type"`
}

type SupplierRef struct {
	ID         string  `gorm:"column:id"`
	ExternalID *string `gorm:"column:external_id"`
	Name       string  `gorm:"column:name"`
}
