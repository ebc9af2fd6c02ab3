package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/xero"
)

// MapContext carries what every mapper stamps on a record.
type MapContext struct {
	TenantID      string
	IntegrationID string
	Provider      string
	BatchID       string
	Lookups       *LookupMaps
}

// The mappers below are pure: they return the record, the data-quality
// warnings found while mapping it, and an error only when the remote record
// cannot be stored at all.

func MapAccount(mc MapContext, a xero.Account) (*models.LedgerAccount, []models.RecordIssue, error) {
	var w warnings
	if strings.TrimSpace(a.Name) == "" {
		return nil, nil, errors.New("account name is required")
	}
	if a.AccountID == "" && a.Code == "" {
		return nil, nil, errors.New("account has neither id nor code")
	}

	rec := &models.LedgerAccount{
		RecordMeta:        mc.meta(models.EntityAccounts, a.AccountID, a.UpdatedDateUTC, &w, a.Code, a.Name),
		Code:              optString(a.Code),
		Name:              strings.TrimSpace(a.Name),
		Type:              a.Type,
		Class:             a.Class,
		Status:            a.Status,
		TaxType:           optString(a.TaxType),
		Description:       optString(a.Description),
		BankAccountNumber: optString(a.BankAccountNumber),
		CurrencyCode:      optString(a.CurrencyCode),
	}
	return rec, w.list(a.AccountID), nil
}

func MapSupplier(mc MapContext, c xero.Contact) (*models.Supplier, []models.RecordIssue, error) {
	var w warnings
	if strings.TrimSpace(c.Name) == "" {
		return nil, nil, errors.New("supplier name is required")
	}
	if !c.IsSupplier {
		w.add("IsSupplier", "contact is not flagged as a supplier")
	}

	rec := &models.Supplier{
		RecordMeta:    mc.meta(models.EntitySuppliers, c.ContactID, c.UpdatedDateUTC, &w, NormalizeName(c.Name), c.TaxNumber),
		Name:          strings.TrimSpace(c.Name),
		EmailAddress:  optString(c.EmailAddress),
		TaxNumber:     optString(c.TaxNumber),
		AccountNumber: optString(c.AccountNumber),
		Status:        c.ContactStatus,
		CurrencyCode:  optString(c.DefaultCurrency),
	}
	return rec, w.list(c.ContactID), nil
}

func MapInvoice(mc MapContext, inv xero.Invoice) (*models.Invoice, []models.RecordIssue, error) {
	var w warnings
	if inv.InvoiceID == "" && inv.InvoiceNumber == "" {
		return nil, nil, errors.New("invoice has neither id nor number")
	}
	if inv.Type != models.InvoiceTypeAccPay && inv.Type != models.InvoiceTypeAccRec {
		return nil, nil, fmt.Errorf("unsupported invoice type %q", inv.Type)
	}

	date := timeField(inv.Date, "Date", &w)
	dueDate := timeField(inv.DueDate, "DueDate", &w)
	lines := mapLines(mc.Lookups, inv.LineItems, &w)

	total := amountOr(inv.Total, 0)
	if inv.Total == nil {
		total = sumLines(lines)
		w.add("Total", "total missing, derived from line items")
	}

	rec := &models.Invoice{
		InvoiceNumber: optString(inv.InvoiceNumber),
		Type:          inv.Type,
		Status:        inv.Status,
		Reference:     optString(inv.Reference),
		Date:          date,
		DueDate:       dueDate,
		CurrencyCode:  optString(inv.CurrencyCode),
		SubTotal:      amountOr(inv.SubTotal, total),
		TotalTax:      amountOr(inv.TotalTax, 0),
		Total:         total,
		AmountDue:     amountOr(inv.AmountDue, total),
		AmountPaid:    amountOr(inv.AmountPaid, 0),
		LineItems:     datatypes.NewJSONType(lines),
	}

	contactName := ""
	if inv.Contact != nil {
		rec.ContactExternalID = optString(inv.Contact.ContactID)
		rec.ContactName = optString(inv.Contact.Name)
		contactName = inv.Contact.Name
		if id, ok := mc.Lookups.FindSupplierID(inv.Contact.ContactID, inv.Contact.Name); ok {
			rec.SupplierID = &id
		} else {
			w.add("Contact", fmt.Sprintf("supplier %q not found, left unlinked", inv.Contact.Name))
		}
	} else {
		w.add("Contact", "invoice has no contact")
	}

	rec.RecordMeta = mc.meta(models.EntityInvoices, inv.InvoiceID, inv.UpdatedDateUTC, &w,
		inv.Type, inv.InvoiceNumber, NormalizeName(contactName), keyDate(date), keyAmount(total))
	return rec, w.list(inv.InvoiceID), nil
}

func MapBankTransaction(mc MapContext, tx xero.BankTransaction) (*models.BankTransaction, []models.RecordIssue, error) {
	var w warnings
	if !tx.Date.Valid {
		return nil, nil, fmt.Errorf("bank transaction date is missing or invalid (%q)", tx.Date.Raw)
	}
	if tx.Total == nil {
		return nil, nil, errors.New("bank transaction total is required")
	}
	if tx.Type == "" {
		return nil, nil, errors.New("bank transaction type is required")
	}

	rec := &models.BankTransaction{
		Type:         tx.Type,
		Status:       tx.Status,
		Date:         tx.Date.Time,
		Reference:    optString(tx.Reference),
		CurrencyCode: optString(tx.CurrencyCode),
		Total:        *tx.Total,
		IsReconciled: tx.IsReconciled,
		LineItems:    datatypes.NewJSONType(mapLines(mc.Lookups, tx.LineItems, &w)),
	}

	bankKey := ""
	if tx.BankAccount != nil {
		rec.BankAccountExternalID = optString(tx.BankAccount.AccountID)
		bankKey = tx.BankAccount.AccountID
		if bankKey == "" {
			bankKey = tx.BankAccount.Code
		}
		if id, ok := mc.Lookups.FindAccountByExternalID(tx.BankAccount.AccountID, tx.BankAccount.Code); ok {
			rec.BankAccountID = &id
		} else {
			w.add("BankAccount", fmt.Sprintf("bank account %q not found, left unlinked", tx.BankAccount.Name))
		}
	} else {
		w.add("BankAccount", "bank transaction has no bank account")
	}

	if tx.Contact != nil {
		rec.ContactName = optString(tx.Contact.Name)
		if id, ok := mc.Lookups.FindSupplierID(tx.Contact.ContactID, tx.Contact.Name); ok {
			rec.SupplierID = &id
		}
	}

	date := tx.Date.Time
	rec.RecordMeta = mc.meta(models.EntityBankTransactions, tx.BankTransactionID, tx.UpdatedDateUTC, &w,
		bankKey, keyDate(&date), keyAmount(*tx.Total), strings.TrimSpace(tx.Reference), tx.Type)
	return rec, w.list(tx.BankTransactionID), nil
}

func MapManualJournal(mc MapContext, mj xero.ManualJournal) (*models.ManualJournal, []models.RecordIssue, error) {
	var w warnings
	if !mj.Date.Valid {
		return nil, nil, fmt.Errorf("manual journal date is missing or invalid (%q)", mj.Date.Raw)
	}
	if len(mj.JournalLines) == 0 {
		return nil, nil, errors.New("manual journal has no lines")
	}
	if strings.TrimSpace(mj.Narration) == "" {
		w.add("Narration", "narration is empty")
	}

	lines := make([]models.JournalLine, 0, len(mj.JournalLines))
	var net float64
	for i, l := range mj.JournalLines {
		line := models.JournalLine{
			AccountCode: l.AccountCode,
			Description: l.Description,
			LineAmount:  amountOr(l.LineAmount, 0),
			TaxType:     l.TaxType,
		}
		if l.LineAmount == nil {
			w.add(fmt.Sprintf("JournalLines[%d].LineAmount", i), "line amount missing, defaulted to 0")
		}
		if id, ok := mc.Lookups.FindAccountID(l.AccountCode, ""); ok {
			line.AccountID = &id
		} else {
			w.add(fmt.Sprintf("JournalLines[%d].AccountCode", i), fmt.Sprintf("account %q not found", l.AccountCode))
		}
		net += line.LineAmount
		lines = append(lines, line)
	}

	date := mj.Date.Time
	rec := &models.ManualJournal{
		Narration: strings.TrimSpace(mj.Narration),
		Date:      date,
		Status:    mj.Status,
		Lines:     datatypes.NewJSONType(lines),
	}
	rec.RecordMeta = mc.meta(models.EntityManualJournals, mj.ManualJournalID, mj.UpdatedDateUTC, &w,
		keyDate(&date), rec.Narration, keyAmount(net), fmt.Sprint(len(lines)))
	return rec, w.list(mj.ManualJournalID), nil
}

func mapLines(lookups *LookupMaps, items []xero.LineItem, w *warnings) []models.InvoiceLine {
	lines := make([]models.InvoiceLine, 0, len(items))
	for i, item := range items {
		line := models.InvoiceLine{
			Description: item.Description,
			Quantity:    amountOr(item.Quantity, 1),
			UnitAmount:  amountOr(item.UnitAmount, 0),
			AccountCode: item.AccountCode,
			TaxType:     item.TaxType,
			TaxAmount:   item.TaxAmount,
		}
		if item.LineAmount != nil {
			line.LineAmount = *item.LineAmount
		} else {
			line.LineAmount = line.Quantity * line.UnitAmount
		}

		if item.AccountCode != "" {
			if id, ok := lookups.FindAccountID(item.AccountCode, ""); ok {
				line.AccountID = &id
			} else {
				w.add(fmt.Sprintf("LineItems[%d].AccountCode", i), fmt.Sprintf("account %q not found", item.AccountCode))
			}
		}
		lines = append(lines, line)
	}
	return lines
}

func sumLines(lines []models.InvoiceLine) float64 {
	var total float64
	for _, l := range lines {
		total += l.LineAmount
		if l.TaxAmount != nil {
			total += *l.TaxAmount
		}
	}
	return total
}

func (mc MapContext) meta(entity models.EntityType, externalID string, updated xero.Time, w *warnings, fields ...string) models.RecordMeta {
	if updated.Present() && !updated.Valid {
		w.add("UpdatedDateUTC", fmt.Sprintf("unparseable timestamp %q", updated.Raw))
	}
	return models.RecordMeta{
		TenantID:          mc.TenantID,
		IntegrationID:     mc.IntegrationID,
		Provider:          mc.Provider,
		ExternalID:        optString(externalID),
		DedupKey:          DedupKey(entity, externalID, fields...),
		ImportBatchID:     mc.BatchID,
		ProviderUpdatedAt: updated.Ptr(),
	}
}

func timeField(t xero.Time, field string, w *warnings) *time.Time {
	if t.Present() && !t.Valid {
		w.add(field, fmt.Sprintf("unparseable date %q", t.Raw))
	}
	return t.Ptr()
}

type warnings []models.RecordIssue

func (w *warnings) add(field, message string) {
	*w = append(*w, models.RecordIssue{Field: field, Message: message})
}

// list stamps the record's external id on every warning.
func (w warnings) list(externalID string) []models.RecordIssue {
	for i := range w {
		w[i].ExternalID = externalID
	}
	return w
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func amountOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
