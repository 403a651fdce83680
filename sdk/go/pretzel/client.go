package pretzel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout is generous because mint calls block until the
// transaction is mined.
const DefaultHTTPTimeout = 2 * time.Minute

// Client wraps the HTTP interactions with the pretzeld REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Outcome is the last observed mint result. Nil fields have never been set.
type Outcome struct {
	TxHash       *string `json:"tx_hash,omitempty"`
	BlockNumber  *uint64 `json:"block_number,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// ChainSnapshot summarises the network behind the read binding.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// State reports which contract bindings are available and the last outcome.
// TotalSupply and Chain are empty when the read binding is absent or the
// read failed.
type State struct {
	ReadAvailable          bool           `json:"read_available"`
	StandardWriteAvailable bool           `json:"standard_write_available"`
	GaslessWriteAvailable  bool           `json:"gasless_write_available"`
	ContractAddress        string         `json:"contract_address"`
	Outcome                Outcome        `json:"outcome"`
	TotalSupply            string         `json:"total_supply,omitempty"`
	Chain                  *ChainSnapshot `json:"chain,omitempty"`
}

// Attempt statuses returned by the mint endpoints.
const (
	StatusSkipped   = "skipped"
	StatusBusy      = "busy"
	StatusConfirmed = "confirmed"
	StatusReverted  = "reverted"
	StatusFailed    = "failed"
)

// Attempt describes a single mint invocation.
type Attempt struct {
	ID            string    `json:"id"`
	Action        string    `json:"action"`
	Status        string    `json:"status"`
	Signer        string    `json:"signer,omitempty"`
	TxHash        string    `json:"tx_hash,omitempty"`
	BlockNumber   uint64    `json:"block_number,omitempty"`
	ReceiptStatus uint64    `json:"receipt_status,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Error         string    `json:"error,omitempty"`
}

// MintRecord is one ledger entry.
type MintRecord struct {
	AttemptID   string `json:"attempt_id"`
	Action      string `json:"action"`
	Status      string `json:"status"`
	Signer      string `json:"signer,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	Reason      string `json:"reason,omitempty"`
	StartedAt   int64  `json:"started_at"`
	FinishedAt  int64  `json:"finished_at"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("pretzel api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("pretzel api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the pretzeld API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// State fetches binding availability and the last mint outcome.
func (c *Client) State(ctx context.Context) (State, error) {
	var state State
	if err := c.do(ctx, http.MethodGet, "/api/v1/contract", nil, &state); err != nil {
		return State{}, err
	}
	return state, nil
}

// MintStandard triggers the standard mint. Busy and skipped attempts are
// returned as attempts, not errors.
func (c *Client) MintStandard(ctx context.Context) (Attempt, error) {
	return c.mint(ctx, "standard")
}

// MintGasless triggers the gasless mint.
func (c *Client) MintGasless(ctx context.Context) (Attempt, error) {
	return c.mint(ctx, "gasless")
}

func (c *Client) mint(ctx context.Context, action string) (Attempt, error) {
	var attempt Attempt
	err := c.do(ctx, http.MethodPost, "/api/v1/mint/"+action, nil, &attempt, http.StatusConflict, http.StatusServiceUnavailable)
	if err != nil {
		return Attempt{}, err
	}
	return attempt, nil
}

// BalanceOf reads how many tokens owner holds.
func (c *Client) BalanceOf(ctx context.Context, owner string) (*big.Int, error) {
	var resp struct {
		Address string `json:"address"`
		Balance string `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/balance/"+url.PathEscape(owner), nil, &resp); err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(resp.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("invalid balance %q", resp.Balance)
	}
	return balance, nil
}

// ListMints returns the latest ledger entries, newest first. limit <= 0 uses
// the server default.
func (c *Client) ListMints(ctx context.Context, limit int) ([]MintRecord, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var records []MintRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/mints", query, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// do sends the request and decodes the body into out. Responses with a status
// listed in accept are decoded like successes when they carry an attempt;
// an error envelope under the same status is still returned as *APIError.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, out any, accept ...int) error {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	if !accepted(resp.StatusCode, accept) || !carriesAttempt(data) {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// carriesAttempt reports whether body is an attempt rather than an error
// envelope: attempts always have a top-level status.
func carriesAttempt(body []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}
	_, ok := fields["status"]
	return ok
}

func accepted(status int, accept []int) bool {
	for _, code := range accept {
		if code == status {
			return true
		}
	}
	return false
}

func decodeError(status int, data []byte) error {
	apiErr := &APIError{StatusCode: status}
	if len(data) > 0 {
		envelope := struct {
			Error *APIError `json:"error"`
		}{Error: apiErr}
		if err := json.Unmarshal(data, &envelope); err != nil {
			// flat payload or plain text
			_ = json.Unmarshal(data, apiErr)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return apiErr
}
