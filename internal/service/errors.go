package service

import "errors"

var (
	// ErrIntegrationInactive is returned when a sync is requested for an
	// integration that is not active.
	ErrIntegrationInactive = errors.New("integration is not active")
	// ErrInvalidAuth is returned when the integration's tokens cannot be used
	// or refreshed without the user re-authenticating.
	ErrInvalidAuth           = errors.New("integration needs re-authentication")
	ErrInvalidScope          = errors.New("invalid sync scope")
	ErrSyncNotActive         = errors.New("sync job is not active")
	ErrBatchAlreadyFinalized = errors.New("import batch already finalized")
	ErrUnknownJob            = errors.New("unknown job kind")
)
