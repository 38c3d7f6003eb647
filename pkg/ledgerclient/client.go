/**
 * @description
 * This package provides a client for the ledger-service internal API. The order and
 * auth services use it to report completed orders and signups; ledgerctl uses it for
 * operator actions such as settling commissions and deciding withdrawals.
 */
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/domain"
	"github.com/google/uuid"
)

// Client is a client for the ledger service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new ledger service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is returned for any response with a 4xx or 5xx status.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ledger service returned error status %d", e.StatusCode)
	}
	return fmt.Sprintf("ledger service returned error status %d: %s", e.StatusCode, e.Message)
}

// OrderResult is the fan-out outcome for one order. Error is set when some entries
// could not be written; Entries still lists every entry that is stored.
type OrderResult struct {
	Entries []domain.CommissionEntry `json:"entries"`
	Error   string                   `json:"error,omitempty"`
}

// RegisterAccount creates the account if it does not exist yet.
func (c *Client) RegisterAccount(ctx context.Context, accountID string, kind domain.AccountKind, referralCode string) (*domain.Account, error) {
	payload := map[string]interface{}{"account_id": accountID, "kind": kind, "referral_code": referralCode}
	var out domain.Account
	if err := c.do(ctx, http.MethodPost, "/internal/ledger/accounts", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterReferral links a new user to the owner of the referral code.
func (c *Client) RegisterReferral(ctx context.Context, newUserID, referralCode string) (*domain.ReferralResult, error) {
	payload := map[string]string{"new_user_id": newUserID, "referral_code": referralCode}
	var out domain.ReferralResult
	if err := c.do(ctx, http.MethodPost, "/internal/ledger/referrals", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReportOrderCompleted submits a completed order for commission fan-out. Reporting the
// same order again is safe.
func (c *Client) ReportOrderCompleted(ctx context.Context, event domain.OrderCompletedEvent) (*OrderResult, error) {
	var out OrderResult
	err := c.do(ctx, http.MethodPost, "/internal/ledger/orders/completed", event, &out)
	if err != nil {
		if _, ok := err.(*APIError); ok && len(out.Entries) > 0 {
			return &out, err
		}
		return nil, err
	}
	return &out, nil
}

// GetBalance returns the balance snapshot of an account.
func (c *Client) GetBalance(ctx context.Context, accountID string) (*domain.Balance, error) {
	var out domain.Balance
	if err := c.do(ctx, http.MethodGet, "/internal/ledger/accounts/"+url.PathEscape(accountID)+"/balance", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCommissionHistory returns the newest entries for a payee. A zero limit uses the
// server default.
func (c *Client) GetCommissionHistory(ctx context.Context, accountID string, limit int) ([]domain.CommissionEntry, error) {
	path := "/internal/ledger/accounts/" + url.PathEscape(accountID) + "/commissions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []domain.CommissionEntry
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetReferralStats returns the downline counts and referral earnings of an account.
func (c *Client) GetReferralStats(ctx context.Context, accountID string) (*domain.ReferralStats, error) {
	var out domain.ReferralStats
	if err := c.do(ctx, http.MethodGet, "/internal/ledger/accounts/"+url.PathEscape(accountID)+"/referrals/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SettleCommission marks a pending entry paid or cancelled.
func (c *Client) SettleCommission(ctx context.Context, entryID uuid.UUID, status domain.CommissionStatus, notes string) (*domain.CommissionEntry, error) {
	payload := map[string]interface{}{"status": status, "notes": notes}
	var out domain.CommissionEntry
	if err := c.do(ctx, http.MethodPost, "/internal/ledger/commissions/"+entryID.String()+"/settle", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetWithdrawal fetches a withdrawal request.
func (c *Client) GetWithdrawal(ctx context.Context, requestID uuid.UUID) (*domain.WithdrawalRequest, error) {
	var out domain.WithdrawalRequest
	if err := c.do(ctx, http.MethodGet, "/internal/ledger/withdrawals/"+requestID.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkWithdrawalProcessing moves a pending request to processing.
func (c *Client) MarkWithdrawalProcessing(ctx context.Context, requestID uuid.UUID, notes string) (*domain.WithdrawalRequest, error) {
	return c.decideWithdrawal(ctx, requestID, "processing", map[string]string{"notes": notes})
}

// ApproveWithdrawal completes a request.
func (c *Client) ApproveWithdrawal(ctx context.Context, requestID uuid.UUID, notes string) (*domain.WithdrawalRequest, error) {
	return c.decideWithdrawal(ctx, requestID, "approve", map[string]string{"notes": notes})
}

// RejectWithdrawal rejects a request and refunds its reserved amount.
func (c *Client) RejectWithdrawal(ctx context.Context, requestID uuid.UUID, reason string) (*domain.WithdrawalRequest, error) {
	return c.decideWithdrawal(ctx, requestID, "reject", map[string]string{"reason": reason})
}

func (c *Client) decideWithdrawal(ctx context.Context, requestID uuid.UUID, action string, payload interface{}) (*domain.WithdrawalRequest, error) {
	var out domain.WithdrawalRequest
	if err := c.do(ctx, http.MethodPost, "/internal/ledger/withdrawals/"+requestID.String()+"/"+action, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends the request and decodes the body into out. Error responses are decoded into
// out as well so partial results survive.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("ledger service base url is empty")
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to ledger service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
			apiErr.Message = envelope.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		if seconds, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil {
			apiErr.RetryAfter = time.Duration(seconds) * time.Second
		}
		if out != nil {
			_ = json.Unmarshal(raw, out)
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
