package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/vipul43/ledgersync/internal/models"
)

// LookupRepository reads the slim reference rows the importers resolve
// foreign keys against.
type LookupRepository struct {
	db *gorm.DB
}

func NewLookupRepository(db *gorm.DB) *LookupRepository {
	return &LookupRepository{db: db}
}

// ListAccountRefs returns every ledger account of the tenant for the provider
func (r *LookupRepository) ListAccountRefs(ctx context.Context, tenantID, provider string) ([]models.AccountRef, error) {
	var refs []models.AccountRef
	result := r.db.WithContext(ctx).Model(&models.LedgerAccount{}).
		Select("id", "code", "external_id", "name", "type").
		Where("tenant_id = ? AND provider = ?", tenantID, provider).
		Find(&refs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list account refs: %w", result.Error)
	}
	return refs, nil
}

// ListSupplierRefs returns every supplier of the tenant for the provider
func (r *LookupRepository) ListSupplierRefs(ctx context.Context, tenantID, provider string) ([]models.SupplierRef, error) {
	var refs []models.SupplierRef
	result := r.db.WithContext(ctx).Model(&models.Supplier{}).
		Select("id", "external_id", "name").
		Where("tenant_id = ? AND provider = ?", tenantID, provider).
		Find(&refs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list supplier refs: %w", result.Error)
	}
	return refs, nil
}
