package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vipul43/ledgersync/internal/models"
)

var ErrIntegrationNotFound = errors.New("integration not found")

type IntegrationRepository struct {
	db *gorm.DB
}

func NewIntegrationRepository(db *gorm.DB) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

// GetByID retrieves integration by ID
func (r *IntegrationRepository) GetByID(ctx context.Context, integrationID string) (*models.Integration, error) {
	var integration models.Integration
	result := r.db.WithContext(ctx).First(&integration, "id = ?", integrationID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrIntegrationNotFound
		}
		return nil, fmt.Errorf("failed to get integration: %w", result.Error)
	}
	return &integration, nil
}

// GetForTenant retrieves an integration only if it belongs to the tenant
func (r *IntegrationRepository) GetForTenant(ctx context.Context, tenantID, integrationID string) (*models.Integration, error) {
	var integration models.Integration
	result := r.db.WithContext(ctx).First(&integration, "id = ? AND tenant_id = ?", integrationID, tenantID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrIntegrationNotFound
		}
		return nil, fmt.Errorf("failed to get integration: %w", result.Error)
	}
	return &integration, nil
}

// UpdateTokens persists a refreshed token set and clears the failure streak.
// An integration parked in error by the failure ceiling becomes active again.
func (r *IntegrationRepository) UpdateTokens(ctx context.Context, integrationID string, auth models.AuthPayload) error {
	now := time.Now()
	updates := map[string]interface{}{
		"access_token":                 auth.AccessToken,
		"refresh_token":                auth.RefreshToken,
		"token_expires_at":             auth.ExpiresAt,
		"consecutive_refresh_failures": 0,
		"health":                       models.HealthHealthy,
		"status":                       gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END", models.IntegrationError, models.IntegrationActive),
		"last_refresh_at":              now,
		"updated_at":                   now,
	}
	if len(auth.Scopes) > 0 {
		updates["scopes"] = datatypes.NewJSONType(auth.Scopes)
	}

	result := r.db.WithContext(ctx).Model(&models.Integration{}).
		Where("id = ?", integrationID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrIntegrationNotFound
	}
	return nil
}

// RecordRefreshFailure increments the consecutive failure counter in one
// statement and returns the new value. At the ceiling the integration moves to
// error; a failure that needs re-authentication moves it to setup_pending.
func (r *IntegrationRepository) RecordRefreshFailure(ctx context.Context, integrationID, reason string, ceiling int, needsReauth bool) (int, error) {
	now := time.Now()
	var row models.Integration
	result := r.db.WithContext(ctx).Model(&row).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "consecutive_refresh_failures"}}}).
		Where("id = ?", integrationID).
		Updates(map[string]interface{}{
			"consecutive_refresh_failures": gorm.Expr("consecutive_refresh_failures + 1"),
			"health": gorm.Expr("CASE WHEN ? OR consecutive_refresh_failures + 1 >= ? THEN ? ELSE ? END",
				needsReauth, ceiling, models.HealthError, models.HealthWarning),
			"status": gorm.Expr("CASE WHEN ? THEN ? WHEN consecutive_refresh_failures + 1 >= ? THEN ? ELSE status END",
				needsReauth, models.IntegrationSetupPending, ceiling, models.IntegrationError),
			"last_error":    reason,
			"last_error_at": now,
			"updated_at":    now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to record refresh failure: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, ErrIntegrationNotFound
	}
	return row.ConsecutiveRefreshFailures, nil
}

// MarkSynced stamps the watermark for the next incremental sync.
func (r *IntegrationRepository) MarkSynced(ctx context.Context, integrationID string, syncedAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Integration{}).
		Where("id = ?", integrationID).
		Updates(map[string]interface{}{
			"last_sync_at": syncedAt,
			"health":       gorm.Expr("CASE WHEN health = ? THEN health ELSE ? END", models.HealthError, models.HealthHealthy),
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark integration synced: %w", result.Error)
	}
	return nil
}

// RecordSyncError keeps the last sync failure visible on the integration.
func (r *IntegrationRepository) RecordSyncError(ctx context.Context, integrationID, reason string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.Integration{}).
		Where("id = ?", integrationID).
		Updates(map[string]interface{}{
			"last_error":    reason,
			"last_error_at": now,
			"health":        gorm.Expr("CASE WHEN health = ? THEN health ELSE ? END", models.HealthError, models.HealthWarning),
			"updated_at":    now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record sync error: %w", result.Error)
	}
	return nil
}
