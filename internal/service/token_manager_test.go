package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vipul43/ledgersync/internal/config"
	"github.com/vipul43/ledgersync/internal/events"
	"github.com/vipul43/ledgersync/internal/lock"
	"github.com/vipul43/ledgersync/internal/logger"
	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/syncerr"
	"github.com/vipul43/ledgersync/internal/xero"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newIntegration(expiresIn time.Duration) *models.Integration {
	return &models.Integration{
		ID:               "int-1",
		TenantID:         "tenant-1",
		Provider:         models.ProviderXero,
		ProviderTenantID: "xero-tenant",
		Status:           models.IntegrationActive,
		Health:           models.HealthHealthy,
		AccessToken:      strPtr("old-access"),
		RefreshToken:     strPtr("old-refresh"),
		TokenExpiresAt:   timePtr(testNow.Add(expiresIn)),
	}
}

func newTestTokenManager(store IntegrationStore, refresher TokenRefresher, pub events.Publisher) *TokenManager {
	tm := NewTokenManager(config.Default().Token, store, refresher, lock.NewLocalLocker(), pub, nil, logger.Discard())
	tm.now = func() time.Time { return testNow }
	return tm
}

func freshTokens() *xero.TokenSet {
	return &xero.TokenSet{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		ExpiresAt:    testNow.Add(30 * time.Minute),
	}
}

func TestCheckHealth_RefreshBuffer(t *testing.T) {
	tests := []struct {
		name         string
		expiresIn    time.Duration
		needsRefresh bool
		isValid      bool
	}{
		{"inside buffer", 299 * time.Second, true, true},
		{"at buffer", 300 * time.Second, false, true},
		{"outside buffer", 301 * time.Second, false, true},
		{"expired", -time.Minute, true, false},
	}

	tm := newTestTokenManager(newFakeIntegrationStore(), &fakeRefresher{}, &fakePublisher{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tm.CheckHealth(newIntegration(tt.expiresIn))
			assert.Equal(t, tt.needsRefresh, h.NeedsRefresh)
			assert.Equal(t, tt.isValid, h.IsValid)
			assert.False(t, h.NeedsReauth)
			assert.Equal(t, int64(tt.expiresIn/time.Second), h.SecondsUntilExpiry)
		})
	}
}

func TestCheckHealth_NeedsReauth(t *testing.T) {
	tm := newTestTokenManager(newFakeIntegrationStore(), &fakeRefresher{}, &fakePublisher{})

	atCeiling := newIntegration(time.Hour)
	atCeiling.ConsecutiveRefreshFailures = 10
	assert.True(t, tm.CheckHealth(atCeiling).NeedsReauth)

	belowCeiling := newIntegration(time.Hour)
	belowCeiling.ConsecutiveRefreshFailures = 9
	assert.False(t, tm.CheckHealth(belowCeiling).NeedsReauth)

	noRefreshToken := newIntegration(time.Hour)
	noRefreshToken.RefreshToken = nil
	h := tm.CheckHealth(noRefreshToken)
	assert.True(t, h.NeedsReauth)
	assert.False(t, h.IsValid)

	pending := newIntegration(time.Hour)
	pending.Status = models.IntegrationSetupPending
	assert.True(t, tm.CheckHealth(pending).NeedsReauth)
}

func TestRefreshTokens_Success(t *testing.T) {
	integration := newIntegration(time.Minute)
	integration.ConsecutiveRefreshFailures = 3
	integration.Health = models.HealthWarning
	store := newFakeIntegrationStore(integration)
	refresher := &fakeRefresher{set: freshTokens()}
	tm := newTestTokenManager(store, refresher, &fakePublisher{})

	result := tm.RefreshTokens(context.Background(), store.get("int-1"))
	require.True(t, result.Success)
	require.NoError(t, result.Err)
	assert.Equal(t, "new-access", result.Auth.AccessToken)

	stored := store.get("int-1")
	assert.Equal(t, "new-access", *stored.AccessToken)
	assert.Equal(t, "new-refresh", *stored.RefreshToken)
	assert.Equal(t, 0, stored.ConsecutiveRefreshFailures)
	assert.Equal(t, models.HealthHealthy, stored.Health)
}

func TestRefreshTokens_FailureCeiling(t *testing.T) {
	tests := []struct {
		name          string
		priorFailures int
		wantFailures  int
		wantReauth    bool
		wantStatus    models.IntegrationStatus
	}{
		{"eighth to ninth stays refreshable", 8, 9, false, models.IntegrationActive},
		{"ninth to tenth needs reauth", 9, 10, true, models.IntegrationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			integration := newIntegration(time.Minute)
			integration.ConsecutiveRefreshFailures = tt.priorFailures
			store := newFakeIntegrationStore(integration)
			pub := &fakePublisher{}
			tm := newTestTokenManager(store, &fakeRefresher{err: syncerr.Transient("refresh", errors.New("503"))}, pub)

			result := tm.RefreshTokens(context.Background(), store.get("int-1"))
			assert.False(t, result.Success)
			require.Error(t, result.Err)
			assert.Equal(t, tt.wantReauth, result.NeedsReauth)

			stored := store.get("int-1")
			assert.Equal(t, tt.wantFailures, stored.ConsecutiveRefreshFailures)
			assert.Equal(t, tt.wantStatus, stored.Status)
			assert.Equal(t, tt.wantReauth, tm.CheckHealth(stored).NeedsReauth)

			if tt.wantReauth {
				assert.True(t, syncerr.Is(result.Err, syncerr.KindAuth))
				assert.Equal(t, 1, pub.count(events.IntegrationNeedsReauth))
			} else {
				assert.True(t, syncerr.IsRetryable(result.Err))
				assert.Equal(t, 0, pub.count(events.IntegrationNeedsReauth))
			}
		})
	}
}

func TestRefreshTokens_InvalidGrantNeedsReauthImmediately(t *testing.T) {
	store := newFakeIntegrationStore(newIntegration(time.Minute))
	pub := &fakePublisher{}
	refresher := &fakeRefresher{err: syncerr.Auth("refresh", errors.New("invalid_grant"))}
	tm := newTestTokenManager(store, refresher, pub)

	result := tm.RefreshTokens(context.Background(), store.get("int-1"))
	assert.True(t, result.NeedsReauth)
	assert.False(t, syncerr.IsRetryable(result.Err))
	assert.Equal(t, models.IntegrationSetupPending, store.get("int-1").Status)
	assert.Equal(t, 1, pub.count(events.IntegrationNeedsReauth))

	// No provider call once reauth is needed.
	again := tm.RefreshTokens(context.Background(), store.get("int-1"))
	assert.True(t, again.NeedsReauth)
	assert.Equal(t, int32(1), refresher.calls)
}

func TestRefreshTokens_ConcurrentCallersShareOneRefresh(t *testing.T) {
	store := newFakeIntegrationStore(newIntegration(time.Minute))
	refresher := &fakeRefresher{set: freshTokens(), delay: 50 * time.Millisecond}
	tm := newTestTokenManager(store, refresher, &fakePublisher{})

	snapshot := store.get("int-1")
	var wg sync.WaitGroup
	results := make([]RefreshResult, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := *snapshot
			results[i] = tm.RefreshTokens(context.Background(), &c)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), refresher.calls)
	for _, r := range results {
		require.True(t, r.Success)
		assert.Equal(t, "new-access", r.Auth.AccessToken)
	}
}

func TestRefreshTokens_PersistFailureIsRetryable(t *testing.T) {
	store := newFakeIntegrationStore(newIntegration(time.Minute))
	store.updateErr = errors.New("connection reset")
	tm := newTestTokenManager(store, &fakeRefresher{set: freshTokens()}, &fakePublisher{})

	result := tm.RefreshTokens(context.Background(), store.get("int-1"))
	assert.False(t, result.Success)
	assert.True(t, syncerr.IsRetryable(result.Err))
}

func TestCredentials(t *testing.T) {
	t.Run("valid token is returned without refreshing", func(t *testing.T) {
		store := newFakeIntegrationStore(newIntegration(time.Hour))
		refresher := &fakeRefresher{set: freshTokens()}
		tm := newTestTokenManager(store, refresher, &fakePublisher{})

		creds, err := tm.Credentials(context.Background(), "int-1", false)
		require.NoError(t, err)
		assert.Equal(t, "old-access", creds.AccessToken)
		assert.Equal(t, "xero-tenant", creds.ProviderTenantID)
		assert.Equal(t, int32(0), refresher.calls)
	})

	t.Run("token inside buffer is refreshed", func(t *testing.T) {
		store := newFakeIntegrationStore(newIntegration(2 * time.Minute))
		refresher := &fakeRefresher{set: freshTokens()}
		tm := newTestTokenManager(store, refresher, &fakePublisher{})

		creds, err := tm.Credentials(context.Background(), "int-1", false)
		require.NoError(t, err)
		assert.Equal(t, "new-access", creds.AccessToken)
		assert.Equal(t, int32(1), refresher.calls)
	})

	t.Run("forced refresh", func(t *testing.T) {
		store := newFakeIntegrationStore(newIntegration(time.Hour))
		refresher := &fakeRefresher{set: freshTokens()}
		tm := newTestTokenManager(store, refresher, &fakePublisher{})

		creds, err := tm.Credentials(context.Background(), "int-1", true)
		require.NoError(t, err)
		assert.Equal(t, "new-access", creds.AccessToken)
	})

	t.Run("needs reauth", func(t *testing.T) {
		integration := newIntegration(time.Hour)
		integration.ConsecutiveRefreshFailures = 10
		tm := newTestTokenManager(newFakeIntegrationStore(integration), &fakeRefresher{}, &fakePublisher{})

		_, err := tm.Credentials(context.Background(), "int-1", false)
		assert.True(t, syncerr.Is(err, syncerr.KindAuth))
		assert.ErrorIs(t, err, ErrInvalidAuth)
	})
}
