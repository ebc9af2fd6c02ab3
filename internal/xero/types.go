package xero

import "time"

// ListParams selects one page of a list endpoint.
type ListParams struct {
	Page     int
	PageSize int
	// ModifiedSince is sent as If-Modified-Since.
	ModifiedSince *time.Time
	// Where is a filter expression in the API's where syntax.
	Where string
}

type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

type Account struct {
	AccountID         string `json:"AccountID"`
	Code              string `json:"Code"`
	Name              string `json:"Name"`
	Type              string `json:"Type"`
	Class             string `json:"Class"`
	Status            string `json:"Status"`
	TaxType           string `json:"TaxType"`
	Description       string `json:"Description"`
	BankAccountNumber string `json:"BankAccountNumber"`
	CurrencyCode      string `json:"CurrencyCode"`
	UpdatedDateUTC    Time   `json:"UpdatedDateUTC"`
}

type Contact struct {
	ContactID       string `json:"ContactID"`
	Name            string `json:"Name"`
	EmailAddress    string `json:"EmailAddress"`
	TaxNumber       string `json:"TaxNumber"`
	AccountNumber   string `json:"AccountNumber"`
	ContactStatus   string `json:"ContactStatus"`
	IsSupplier      bool   `json:"IsSupplier"`
	DefaultCurrency string `json:"DefaultCurrency"`
	UpdatedDateUTC  Time   `json:"UpdatedDateUTC"`
}

// ContactRef is the contact summary embedded in documents.
type ContactRef struct {
	ContactID string `json:"ContactID"`
	Name      string `json:"Name"`
}

// AccountRef is the account summary embedded in bank transactions.
type AccountRef struct {
	AccountID string `json:"AccountID"`
	Code      string `json:"Code"`
	Name      string `json:"Name"`
}

type LineItem struct {
	Description string   `json:"Description"`
	Quantity    *float64 `json:"Quantity"`
	UnitAmount  *float64 `json:"UnitAmount"`
	LineAmount  *float64 `json:"LineAmount"`
	AccountCode string   `json:"AccountCode"`
	TaxType     string   `json:"TaxType"`
	TaxAmount   *float64 `json:"TaxAmount"`
}

type Invoice struct {
	InvoiceID      string      `json:"InvoiceID"`
	InvoiceNumber  string      `json:"InvoiceNumber"`
	Type           string      `json:"Type"`
	Status         string      `json:"Status"`
	Contact        *ContactRef `json:"Contact"`
	Reference      string      `json:"Reference"`
	Date           Time        `json:"Date"`
	DueDate        Time        `json:"DueDate"`
	CurrencyCode   string      `json:"CurrencyCode"`
	SubTotal       *float64    `json:"SubTotal"`
	TotalTax       *float64    `json:"TotalTax"`
	Total          *float64    `json:"Total"`
	AmountDue      *float64    `json:"AmountDue"`
	AmountPaid     *float64    `json:"AmountPaid"`
	LineItems      []LineItem  `json:"LineItems"`
	UpdatedDateUTC Time        `json:"UpdatedDateUTC"`
}

type BankTransaction struct {
	BankTransactionID string      `json:"BankTransactionID"`
	Type              string      `json:"Type"`
	Status            string      `json:"Status"`
	Contact           *ContactRef `json:"Contact"`
	BankAccount       *AccountRef `json:"BankAccount"`
	Date              Time        `json:"Date"`
	Reference         string      `json:"Reference"`
	CurrencyCode      string      `json:"CurrencyCode"`
	Total             *float64    `json:"Total"`
	IsReconciled      bool        `json:"IsReconciled"`
	LineItems         []LineItem  `json:"LineItems"`
	UpdatedDateUTC    Time        `json:"UpdatedDateUTC"`
}

type JournalLine struct {
	LineAmount  *float64 `json:"LineAmount"`
	AccountCode string   `json:"AccountCode"`
	Description string   `json:"Description"`
	TaxType     string   `json:"TaxType"`
}

type ManualJournal struct {
	ManualJournalID string        `json:"ManualJournalID"`
	Narration       string        `json:"Narration"`
	Date            Time          `json:"Date"`
	Status          string        `json:"Status"`
	JournalLines    []JournalLine `json:"JournalLines"`
	UpdatedDateUTC  Time          `json:"UpdatedDateUTC"`
}
