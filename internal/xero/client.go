package xero

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/vipul43/ledgersync/internal/config"
	"github.com/vipul43/ledgersync/internal/syncerr"
)

// accessTokenLifetime is used when the token endpoint omits expires_in.
const accessTokenLifetime = 30 * time.Minute

type Client struct {
	clientID     string
	clientSecret string
	tokenURL     string
	baseURL      string
	httpClient   *http.Client
}

// NewClient builds an API client. A nil httpClient gets one with the
// configured timeout.
func NewClient(cfg config.XeroConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokenURL:     cfg.TokenURL,
		baseURL:      strings.TrimRight(cfg.APIBaseURL, "/"),
		httpClient:   httpClient,
	}
}

// ListAccounts fetches the chart of accounts. The endpoint is not paginated,
// so every page after the first is empty.
func (c *Client) ListAccounts(ctx context.Context, accessToken, tenantID string, p ListParams) ([]Account, error) {
	if p.Page > 1 {
		return nil, nil
	}
	p.Page, p.PageSize = 0, 0

	var resp struct {
		Accounts []Account `json:"Accounts"`
	}
	if err := c.get(ctx, "list accounts", accessToken, tenantID, "/Accounts", p, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// ListContacts fetches one page of contacts flagged as suppliers
func (c *Client) ListContacts(ctx context.Context, accessToken, tenantID string, p ListParams) ([]Contact, error) {
	p.Where = joinWhere("IsSupplier==true", p.Where)

	var resp struct {
		Contacts []Contact `json:"Contacts"`
	}
	if err := c.get(ctx, "list contacts", accessToken, tenantID, "/Contacts", p, &resp); err != nil {
		return nil, err
	}
	return resp.Contacts, nil
}

// ListInvoices fetches one page of invoices
func (c *Client) ListInvoices(ctx context.Context, accessToken, tenantID string, p ListParams) ([]Invoice, error) {
	var resp struct {
		Invoices []Invoice `json:"Invoices"`
	}
	if err := c.get(ctx, "list invoices", accessToken, tenantID, "/Invoices", p, &resp); err != nil {
		return nil, err
	}
	return resp.Invoices, nil
}

// ListBankTransactions fetches one page of bank transactions
func (c *Client) ListBankTransactions(ctx context.Context, accessToken, tenantID string, p ListParams) ([]BankTransaction, error) {
	var resp struct {
		BankTransactions []BankTransaction `json:"BankTransactions"`
	}
	if err := c.get(ctx, "list bank transactions", accessToken, tenantID, "/BankTransactions", p, &resp); err != nil {
		return nil, err
	}
	return resp.BankTransactions, nil
}

// ListManualJournals fetches one page of manual journals
func (c *Client) ListManualJournals(ctx context.Context, accessToken, tenantID string, p ListParams) ([]ManualJournal, error) {
	var resp struct {
		ManualJournals []ManualJournal `json:"ManualJournals"`
	}
	if err := c.get(ctx, "list manual journals", accessToken, tenantID, "/ManualJournals", p, &resp); err != nil {
		return nil, err
	}
	return resp.ManualJournals, nil
}

func (c *Client) get(ctx context.Context, op, accessToken, tenantID, path string, p ListParams, out interface{}) error {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(p.PageSize))
	}
	if p.Where != "" {
		q.Set("where", p.Where)
	}

	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return syncerr.Validation(op, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Xero-tenant-id", tenantID)
	req.Header.Set("Accept", "application/json")
	if p.ModifiedSince != nil {
		req.Header.Set("If-Modified-Since", p.ModifiedSince.UTC().Format("2006-01-02T15:04:05"))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return syncerr.Transient(op, err)
	}
	defer resp.Body.Close()

	// Nothing modified since the watermark
	if resp.StatusCode == http.StatusNotModified {
		return nil
	}

	if err := googleapi.CheckResponse(resp); err != nil {
		return classify(op, err)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return syncerr.Transient(op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// classify maps an HTTP error response onto the sync error taxonomy.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return syncerr.Transient(op, err)
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return syncerr.RateLimited(op, err, retryAfter(apiErr.Header))
	case apiErr.Code == http.StatusUnauthorized:
		return syncerr.New(syncerr.KindUnauthorized, op, err)
	case apiErr.Code == http.StatusForbidden:
		return syncerr.Auth(op, err)
	case apiErr.Code == http.StatusNotFound:
		return syncerr.New(syncerr.KindNotFound, op, err)
	case apiErr.Code >= 500:
		return syncerr.Transient(op, err)
	default:
		return syncerr.Validation(op, err)
	}
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func joinWhere(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " AND ")
}

// RefreshAccessToken exchanges the refresh token for a new token set. The
// provider rotates refresh tokens, so the returned one must replace the old.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, syncerr.Auth("refresh token", errors.New("no refresh token available"))
	}

	conf := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classifyRefresh(ctx, err)
	}

	result := &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    token.Expiry,
	}
	// Check if refresh token was rotated
	if token.RefreshToken != "" {
		result.RefreshToken = token.RefreshToken
	}
	if result.ExpiresAt.IsZero() {
		result.ExpiresAt = time.Now().Add(accessTokenLifetime)
	}
	if scope, ok := token.Extra("scope").(string); ok {
		result.Scopes = strings.Fields(scope)
	}

	return result, nil
}

// classifyRefresh separates failures only re-authentication fixes from ones
// worth retrying.
func classifyRefresh(ctx context.Context, err error) error {
	const op = "refresh token"
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return syncerr.Transient(op, err)
	}

	switch retrieveErr.ErrorCode {
	case "invalid_grant", "invalid_client", "unauthorized_client":
		return syncerr.Auth(op, err)
	}

	if retrieveErr.Response == nil {
		return syncerr.Transient(op, err)
	}
	switch code := retrieveErr.Response.StatusCode; {
	case code == http.StatusTooManyRequests:
		return syncerr.RateLimited(op, err, retryAfter(retrieveErr.Response.Header))
	case code == http.StatusBadRequest, code == http.StatusUnauthorized, code == http.StatusForbidden:
		return syncerr.Auth(op, err)
	default:
		return syncerr.Transient(op, err)
	}
}
