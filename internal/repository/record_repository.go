package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vipul43/ledgersync/internal/models"
)

// RecordRepository reads and writes one imported entity table. T is a
// pointer to the entity model, e.g. *models.BankTransaction.
type RecordRepository[T models.Record] struct {
	db *gorm.DB
}

func NewRecordRepository[T models.Record](db *gorm.DB) *RecordRepository[T] {
	return &RecordRepository[T]{db: db}
}

// FindExisting loads the tenant's rows matching any of the given external ids
// or dedup keys. Only the ids of the page being imported are queried.
func (r *RecordRepository[T]) FindExisting(ctx context.Context, tenantID string, externalIDs, dedupKeys []string) ([]T, error) {
	if len(externalIDs) == 0 && len(dedupKeys) == 0 {
		return nil, nil
	}

	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	switch {
	case len(externalIDs) > 0 && len(dedupKeys) > 0:
		query = query.Where("external_id IN ? OR dedup_key IN ?", externalIDs, dedupKeys)
	case len(externalIDs) > 0:
		query = query.Where("external_id IN ?", externalIDs)
	default:
		query = query.Where("dedup_key IN ?", dedupKeys)
	}

	var rows []T
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find existing records: %w", err)
	}
	return rows, nil
}

// InsertBatch inserts rows in one statement, skipping any row that collides
// with an existing external id or dedup key. It returns the number of rows
// actually inserted.
func (r *RecordRepository[T]) InsertBatch(ctx context.Context, rows []T) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to insert records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// UpdateBatch saves changed rows in one transaction
func (r *RecordRepository[T]) UpdateBatch(ctx context.Context, rows []T) error {
	if len(rows) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			if err := tx.Save(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update records: %w", err)
	}
	return nil
}

// InvoiceRepository adds the invoice-number lookup the invoice upsert needs.
type InvoiceRepository struct {
	*RecordRepository[*models.Invoice]
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{RecordRepository: NewRecordRepository[*models.Invoice](db)}
}

// FindByNumbers loads the tenant's invoices carrying any of the given numbers
func (r *InvoiceRepository) FindByNumbers(ctx context.Context, tenantID string, numbers []string) ([]*models.Invoice, error) {
	if len(numbers) == 0 {
		return nil, nil
	}

	var rows []*models.Invoice
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND invoice_number IN ?", tenantID, numbers).
		Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find invoices by number: %w", result.Error)
	}
	return rows, nil
}
