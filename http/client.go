package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	escrow "github.com/tripartite/escrow"
)

// ============================================================================
// REST Client
// ============================================================================

// Client talks to an escrow REST API
type Client struct {
	url        string
	httpClient *http.Client
}

// ClientConfig configures the REST client
type ClientConfig struct {
	// URL is the base URL of the service, without the /api prefix
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 60s)
	Timeout time.Duration
}

// DefaultServiceURL is the address escrowd serves on by default
const DefaultServiceURL = "http://localhost:3000"

// readRetries is the number of attempts for reads answered with 503
const readRetries = 3

// readRetryBaseDelay is the base delay of the exponential read backoff
const readRetryBaseDelay = 200 * time.Millisecond

// TxResponse is a confirmed submission as reported by the API. Events keep
// their JSON form.
type TxResponse struct {
	escrow.TxResult
	Events []json.RawMessage `json:"events,omitempty"`
}

// EventResponse is an agreement event as reported by the API. Args keep
// their JSON form.
type EventResponse struct {
	escrow.EventRecord
	Args json.RawMessage `json:"args"`
}

// NewClient creates a REST client
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = &ClientConfig{}
	}

	url := strings.TrimRight(config.URL, "/")
	if url == "" {
		url = DefaultServiceURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			// writes wait for confirmation
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{url: url, httpClient: httpClient}
}

// ============================================================================
// Reads
// ============================================================================

// Health reports the network status and the service identities
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.get(ctx, "/api/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance returns the native balance of addr
func (c *Client) Balance(ctx context.Context, addr common.Address) (*BalanceResponse, error) {
	var out BalanceResponse
	if err := c.get(ctx, "/api/balance/"+addr.Hex(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Agreement returns the full view of an agreement
func (c *Client) Agreement(ctx context.Context, addr common.Address) (*AgreementResponse, error) {
	var out AgreementResponse
	if err := c.get(ctx, "/api/contracts/"+addr.Hex(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Requirement returns one requirement of an agreement
func (c *Client) Requirement(ctx context.Context, addr common.Address, index uint64) (*escrow.Requirement, error) {
	var out escrow.Requirement
	path := "/api/contracts/" + addr.Hex() + "/requirements/" + strconv.FormatUint(index, 10)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events returns the events an agreement emitted from fromBlock on
func (c *Client) Events(ctx context.Context, addr common.Address, fromBlock uint64) ([]EventResponse, error) {
	var out []EventResponse
	path := "/api/contracts/" + addr.Hex() + "/events?fromBlock=" + strconv.FormatUint(fromBlock, 10)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ============================================================================
// Writes
// ============================================================================

// Deploy creates an agreement signed by the service arbiter
func (c *Client) Deploy(ctx context.Context, payer, beneficiary common.Address, requirements []string, idempotencyKey string) (*TxResponse, error) {
	return c.write(ctx, "/api/contracts/deploy", DeployRequest{
		Payer:        payer.Hex(),
		Beneficiary:  beneficiary.Hex(),
		Requirements: requirements,
	}, idempotencyKey)
}

// Deposit funds addr with wei from the service payer
func (c *Client) Deposit(ctx context.Context, addr common.Address, wei *big.Int, idempotencyKey string) (*TxResponse, error) {
	return c.write(ctx, "/api/contracts/"+addr.Hex()+"/deposit", DepositRequest{
		Amount: escrow.FormatEther(wei),
	}, idempotencyKey)
}

// Complete marks requirement index of addr completed
func (c *Client) Complete(ctx context.Context, addr common.Address, index uint64, idempotencyKey string) (*TxResponse, error) {
	path := "/api/contracts/" + addr.Hex() + "/complete/" + strconv.FormatUint(index, 10)
	return c.write(ctx, path, nil, idempotencyKey)
}

// Cancel cancels addr, refunding the payer
func (c *Client) Cancel(ctx context.Context, addr common.Address, idempotencyKey string) (*TxResponse, error) {
	return c.write(ctx, "/api/contracts/"+addr.Hex()+"/cancel", nil, idempotencyKey)
}

// EmergencyWithdraw sweeps a cancelled agreement to its payer
func (c *Client) EmergencyWithdraw(ctx context.Context, addr common.Address, idempotencyKey string) (*TxResponse, error) {
	return c.write(ctx, "/api/contracts/"+addr.Hex()+"/emergency-withdraw", nil, idempotencyKey)
}

// ============================================================================
// Internal HTTP Methods
// ============================================================================

// get retries 503 answers with exponential backoff. Writes are never retried
// here; callers replay them with an idempotency key.
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	var lastErr error
	for attempt := range readRetries {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+path, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		status, err := c.do(req, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if status == http.StatusServiceUnavailable && attempt < readRetries-1 {
			delay := readRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return lastErr
	}
	return lastErr
}

func (c *Client) write(ctx context.Context, path string, body interface{}, idempotencyKey string) (*TxResponse, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, idempotencyKey)
	}

	var out TxResponse
	if _, err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends req and decodes the envelope. API failures come back as
// *escrow.Error; transport failures are transient.
func (c *Client) do(req *http.Request, out interface{}) (int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, escrow.NewTransientError("request failed", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, escrow.NewTransientError("failed to read response body", err)
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *escrow.Error   `json:"error"`
	}
	if err := json.Unmarshal(responseBody, &envelope); err != nil {
		return resp.StatusCode, escrow.NewInternalError(
			fmt.Sprintf("unexpected response (%d): %s", resp.StatusCode, string(responseBody)), err)
	}
	if !envelope.Success {
		if envelope.Error == nil {
			return resp.StatusCode, escrow.NewInternalError(fmt.Sprintf("request failed with status %d", resp.StatusCode), nil)
		}
		return resp.StatusCode, envelope.Error
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}
