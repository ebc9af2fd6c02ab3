package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vipul43/ledgersync/internal/config"
	"github.com/vipul43/ledgersync/internal/events"
	"github.com/vipul43/ledgersync/internal/lock"
	"github.com/vipul43/ledgersync/internal/metrics"
	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/provider"
	"github.com/vipul43/ledgersync/internal/syncerr"
)

// TokenHealth is a point-in-time view of an integration's tokens.
type TokenHealth struct {
	IsValid             bool   `json:"isValid"`
	NeedsRefresh        bool   `json:"needsRefresh"`
	NeedsReauth         bool   `json:"needsReauth"`
	SecondsUntilExpiry  int64  `json:"secondsUntilExpiry"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	Error               string `json:"error,omitempty"`
}

type RefreshResult struct {
	Success     bool
	Auth        *models.AuthPayload
	Err         error
	NeedsReauth bool
}

// TokenManager owns the OAuth token lifecycle. Refreshes for one integration
// are serialized: in-process callers share a single flight and processes
// coordinate through the Locker.
type TokenManager struct {
	cfg       config.TokenConfig
	store     IntegrationStore
	refresher TokenRefresher
	locker    lock.Locker
	publisher events.Publisher
	metrics   *metrics.Metrics
	log       logrus.FieldLogger

	group singleflight.Group
	now   func() time.Time
}

func NewTokenManager(cfg config.TokenConfig, store IntegrationStore, refresher TokenRefresher, locker lock.Locker, publisher events.Publisher, m *metrics.Metrics, log logrus.FieldLogger) *TokenManager {
	return &TokenManager{
		cfg:       cfg,
		store:     store,
		refresher: refresher,
		locker:    locker,
		publisher: publisher,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// CheckHealth reports on the integration's tokens without side effects.
func (m *TokenManager) CheckHealth(integration *models.Integration) TokenHealth {
	h := TokenHealth{
		ConsecutiveFailures: integration.ConsecutiveRefreshFailures,
		NeedsReauth:         m.needsReauth(integration),
	}
	if integration.LastError != nil && integration.ConsecutiveRefreshFailures > 0 {
		h.Error = *integration.LastError
	}

	if integration.AccessToken == nil || *integration.AccessToken == "" || integration.TokenExpiresAt == nil {
		h.NeedsRefresh = !h.NeedsReauth
		if h.Error == "" {
			h.Error = "no access token stored"
		}
		return h
	}

	remaining := integration.TokenExpiresAt.Sub(m.now())
	h.SecondsUntilExpiry = int64(remaining / time.Second)
	h.NeedsRefresh = remaining < m.cfg.RefreshBuffer
	h.IsValid = remaining > 0 && !h.NeedsReauth
	return h
}

func (m *TokenManager) needsReauth(integration *models.Integration) bool {
	return integration.Status == models.IntegrationSetupPending ||
		integration.ConsecutiveRefreshFailures >= m.cfg.MaxConsecutiveFailures ||
		integration.RefreshToken == nil || *integration.RefreshToken == ""
}

// RefreshTokens refreshes the integration's tokens unless another caller
// already replaced the token the caller saw.
func (m *TokenManager) RefreshTokens(ctx context.Context, integration *models.Integration) RefreshResult {
	seen := ""
	if integration.AccessToken != nil {
		seen = *integration.AccessToken
	}

	v, _, _ := m.group.Do(integration.ID, func() (interface{}, error) {
		return m.refreshLocked(ctx, integration.ID, seen), nil
	})
	return v.(RefreshResult)
}

func (m *TokenManager) refreshLocked(ctx context.Context, integrationID, seenAccessToken string) RefreshResult {
	release, err := m.locker.Acquire(ctx, "token-refresh:"+integrationID, m.cfg.LockTTL)
	if err != nil {
		return RefreshResult{Err: syncerr.Transient("acquire refresh lock", err)}
	}
	defer release()

	// Re-read under the lock; another worker may have refreshed already
	current, err := m.store.GetByID(ctx, integrationID)
	if err != nil {
		return RefreshResult{Err: fmt.Errorf("failed to reload integration: %w", err)}
	}

	health := m.CheckHealth(current)
	if health.NeedsReauth {
		return RefreshResult{
			Err:         syncerr.Auth("refresh tokens", ErrInvalidAuth),
			NeedsReauth: true,
		}
	}
	if current.AccessToken != nil && *current.AccessToken != seenAccessToken && !health.NeedsRefresh {
		auth := current.Auth()
		return RefreshResult{Success: true, Auth: &auth}
	}

	set, err := m.refresher.RefreshAccessToken(ctx, *current.RefreshToken)
	if err != nil {
		return m.recordFailure(ctx, current, err)
	}

	auth := models.AuthPayload{
		AccessToken:  set.AccessToken,
		RefreshToken: set.RefreshToken,
		ExpiresAt:    set.ExpiresAt,
		Scopes:       set.Scopes,
	}
	if err := m.store.UpdateTokens(ctx, integrationID, auth); err != nil {
		// The provider already rotated the refresh token; losing it here
		// means the next refresh will fail with invalid_grant.
		m.log.WithError(err).WithField("integration_id", integrationID).Error("Failed to persist refreshed tokens")
		return RefreshResult{Err: syncerr.Transient("persist tokens", err)}
	}

	m.metrics.RecordTokenRefresh("success")
	m.log.WithFields(logrus.Fields{
		"integration_id": integrationID,
		"expires_at":     auth.ExpiresAt,
	}).Info("Refreshed access token")

	return RefreshResult{Success: true, Auth: &auth}
}

func (m *TokenManager) recordFailure(ctx context.Context, integration *models.Integration, refreshErr error) RefreshResult {
	authFailure := syncerr.Is(refreshErr, syncerr.KindAuth)

	failures, err := m.store.RecordRefreshFailure(ctx, integration.ID, refreshErr.Error(), m.cfg.MaxConsecutiveFailures, authFailure)
	if err != nil {
		m.log.WithError(err).WithField("integration_id", integration.ID).Error("Failed to record refresh failure")
		failures = integration.ConsecutiveRefreshFailures + 1
	}

	needsReauth := authFailure || failures >= m.cfg.MaxConsecutiveFailures
	m.metrics.RecordTokenRefresh("failure")

	logEntry := m.log.WithError(refreshErr).WithFields(logrus.Fields{
		"integration_id":       integration.ID,
		"consecutive_failures": failures,
		"needs_reauth":         needsReauth,
	})
	if !needsReauth {
		logEntry.Warn("Token refresh failed")
		return RefreshResult{Err: refreshErr}
	}

	logEntry.Error("Token refresh failed, integration needs re-authentication")
	if err := m.publisher.Publish(ctx, events.IntegrationNeedsReauth, integration.ID, map[string]interface{}{
		"integrationId":       integration.ID,
		"tenantId":            integration.TenantID,
		"consecutiveFailures": failures,
		"reason":              refreshErr.Error(),
	}); err != nil {
		m.log.WithError(err).Warn("Failed to publish needs_reauth event")
	}

	if !authFailure {
		refreshErr = syncerr.Auth("refresh tokens", fmt.Errorf("%w: %d consecutive refresh failures: %v", ErrInvalidAuth, failures, refreshErr))
	}
	return RefreshResult{Err: refreshErr, NeedsReauth: true}
}

// Credentials returns a usable access token for the integration, refreshing
// first when it is inside the refresh buffer or forceRefresh is set.
func (m *TokenManager) Credentials(ctx context.Context, integrationID string, forceRefresh bool) (provider.Credentials, error) {
	integration, err := m.store.GetByID(ctx, integrationID)
	if err != nil {
		return provider.Credentials{}, fmt.Errorf("failed to get integration: %w", err)
	}

	health := m.CheckHealth(integration)
	if health.NeedsReauth {
		return provider.Credentials{}, syncerr.Auth("credentials", ErrInvalidAuth)
	}

	if !forceRefresh && !health.NeedsRefresh {
		return provider.Credentials{
			AccessToken:      *integration.AccessToken,
			ProviderTenantID: integration.ProviderTenantID,
		}, nil
	}

	result := m.RefreshTokens(ctx, integration)
	if !result.Success {
		if result.Err == nil {
			result.Err = errors.New("token refresh failed")
		}
		return provider.Credentials{}, result.Err
	}

	return provider.Credentials{
		AccessToken:      result.Auth.AccessToken,
		ProviderTenantID: integration.ProviderTenantID,
	}, nil
}
