package models

import (
	"time"

	"gorm.io/datatypes"
)

type IntegrationStatus string

const (
	IntegrationActive       IntegrationStatus = "active"
	IntegrationError        IntegrationStatus = "error"
	IntegrationDisabled     IntegrationStatus = "disabled"
	IntegrationSetupPending IntegrationStatus = "setup_pending"
)

type HealthStatus string

const (
	HealthHealthy HealthStatus = "healthy"
	HealthWarning HealthStatus = "warning"
	HealthError   HealthStatus = "error"
	HealthUnknown HealthStatus = "unknown"
)

const ProviderXero = "xero"

// Integration is a tenant's OAuth connection to the accounting provider.
// Rows are soft-disabled, never deleted while active.
type Integration struct {
	ID                         string                       `gorm:"column:id;primaryKey"`
	TenantID                   string                       `gorm:"column:tenant_id;index"`
	Provider                   string                       `gorm:"column:provider"`
	ProviderTenantID           string                       `gorm:"column:provider_tenant_id"`
	Status                     IntegrationStatus            `gorm:"column:status"`
	Health                     HealthStatus                 `gorm:"column:health"`
	AccessToken                *string                      `gorm:"column:access_token"`
	RefreshToken               *string                      `gorm:"column:refresh_token"`
	TokenExpiresAt             *time.Time                   `gorm:"column:token_expires_at"`
	Scopes                     datatypes.JSONType[[]string] `gorm:"column:scopes;type:jsonb"`
	ConsecutiveRefreshFailures int                          `gorm:"column:consecutive_refresh_failures"`
	LastRefreshAt              *time.Time                   `gorm:"column:last_refresh_at"`
	LastSyncAt                 *time.Time                   `gorm:"column:last_sync_at"`
	LastErrorAt                *time.Time                   `gorm:"column:last_error_at"`
	LastError                  *string                      `gorm:"column:last_error"`
	CreatedAt                  time.Time                    `gorm:"column:created_at"`
	UpdatedAt                  time.Time                    `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Integration) TableName() string {
	return "integration"
}

// AuthPayload is the token set persisted on an Integration.
type AuthPayload struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Scopes       []string  `json:"scopes,omitempty"`
}

func (i *Integration) Auth() AuthPayload {
	var p AuthPayload
	if i.AccessToken != nil {
		p.AccessToken = *i.AccessToken
	}
	if i.RefreshToken != nil {
		p.RefreshToken = *i.RefreshToken
	}
	if i.TokenExpiresAt != nil {
		p.ExpiresAt = *i.TokenExpiresAt
	}
	p.Scopes = i.Scopes.Data()
	return p
}
