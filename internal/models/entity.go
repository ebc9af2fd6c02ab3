package models

import "fmt"

// EntityType names one importable record type. The value doubles as the
// Import Batch type.
type EntityType string

const (
	EntityAccounts         EntityType = "accounts"
	EntitySuppliers        EntityType = "suppliers"
	EntityInvoices         EntityType = "invoices"
	EntityBankTransactions EntityType = "bank_transactions"
	EntityManualJournals   EntityType = "manual_journals"
)

// Queue names. Each entity type has its own import queue.
const (
	QueueOrchestrator     = "sync-orchestrator"
	QueueAccounts         = "import-accounts"
	QueueSuppliers        = "import-suppliers"
	QueueInvoices         = "import-invoices"
	QueueBankTransactions = "import-bank-transactions"
	QueueManualJournals   = "import-manual-journals"
)

// AllEntities lists every entity type in import order: referential data
// first so later importers can resolve against it.
var AllEntities = []EntityType{
	EntityAccounts,
	EntitySuppliers,
	EntityInvoices,
	EntityBankTransactions,
	EntityManualJournals,
}

// Priority is the base queue priority of the entity's import job. Higher
// runs first.
func (e EntityType) Priority() int {
	switch e {
	case EntityAccounts:
		return 50
	case EntitySuppliers:
		return 40
	case EntityInvoices:
		return 30
	case EntityBankTransactions:
		return 20
	case EntityManualJournals:
		return 10
	}
	return 0
}

func (e EntityType) Queue() string {
	switch e {
	case EntityAccounts:
		return QueueAccounts
	case EntitySuppliers:
		return QueueSuppliers
	case EntityInvoices:
		return QueueInvoices
	case EntityBankTransactions:
		return QueueBankTransactions
	case EntityManualJournals:
		return QueueManualJournals
	}
	return ""
}

func (e EntityType) Valid() bool {
	return e.Priority() > 0
}

func ParseEntityType(s string) (EntityType, error) {
	e := EntityType(s)
	if !e.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return e, nil
}
