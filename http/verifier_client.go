package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	ledgerpay "github.com/x402-foundation/ledgerpay"
	"github.com/x402-foundation/ledgerpay/types"
)

// ============================================================================
// HTTP Verifier Client
// ============================================================================

// VerifierClient calls a remote verification service. It implements Verifier,
// so a service can front another service.
type VerifierClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
	network      ledgerpay.Network
	retryDelay   time.Duration
}

// AuthProvider generates authentication headers for verification requests
type AuthProvider interface {
	GetAuthHeaders(ctx context.Context) (map[string]string, error)
}

// VerifierClientConfig configures the HTTP verifier client
type VerifierClientConfig struct {
	// URL is the base URL of the verification service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional)
	AuthProvider AuthProvider

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration

	// Network sent with every request (optional, the service default applies when empty)
	Network ledgerpay.Network
}

// DefaultVerifierURL is where a locally run verifier-service listens
const DefaultVerifierURL = "http://localhost:4021"

// rateLimitRetries is the number of attempts for a request answered with 429
const rateLimitRetries = 3

// rateLimitRetryBaseDelay is the base delay for exponential backoff on 429
const rateLimitRetryBaseDelay = 1 * time.Second

// NewVerifierClient creates a new HTTP verifier client
func NewVerifierClient(config *VerifierClientConfig) *VerifierClient {
	if config == nil {
		config = &VerifierClientConfig{}
	}

	url := config.URL
	if url == "" {
		url = DefaultVerifierURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	return &VerifierClient{
		url:          url,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
		network:      config.Network,
		retryDelay:   rateLimitRetryBaseDelay,
	}
}

// Verify asks the service to verify one settlement
func (c *VerifierClient) Verify(ctx context.Context, req ledgerpay.VerificationRequest) (*ledgerpay.VerifyResult, error) {
	body, err := json.Marshal(types.FromVerificationRequest(c.network, req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verify request: %w", err)
	}
	return c.post(ctx, "/verify", body)
}

// VerifyBalanceDelta asks the service for a balance-delta verification
func (c *VerifierClient) VerifyBalanceDelta(ctx context.Context, previous ledgerpay.BalanceSnapshot, expected string) (*ledgerpay.VerifyResult, error) {
	body, err := json.Marshal(types.BalanceVerifyRequest{
		Network:  string(c.network),
		Previous: types.FromSnapshot(previous),
		Amount:   expected,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal balance request: %w", err)
	}
	return c.post(ctx, "/verify/balance", body)
}

// Health fetches the service status
func (c *VerifierClient) Health(ctx context.Context) (types.HealthResponse, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return types.HealthResponse{}, err
	}
	if status != http.StatusOK {
		return types.HealthResponse{}, fmt.Errorf("verifier health failed (%d): %s", status, string(body))
	}
	var health types.HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return types.HealthResponse{}, fmt.Errorf("failed to decode health response: %w", err)
	}
	return health, nil
}

// post sends a verification request. A response body carrying an outcome is
// returned as a result even when the status is an error, mirroring the
// in-process verifier which reports outcome and error together.
func (c *VerifierClient) post(ctx context.Context, path string, body []byte) (*ledgerpay.VerifyResult, error) {
	status, responseBody, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var resp types.VerifyResponse
	if err := json.Unmarshal(responseBody, &resp); err != nil {
		if status != http.StatusOK {
			return nil, fmt.Errorf("verifier %s failed (%d): %s", path, status, string(responseBody))
		}
		return nil, fmt.Errorf("failed to decode verify response: %w", err)
	}

	result := resp.ToResult()
	if resp.Error != nil {
		return result, resp.Error.ToLedger()
	}
	if status != http.StatusOK {
		return result, fmt.Errorf("verifier %s failed (%d): %s", path, status, string(responseBody))
	}
	return result, nil
}

// do performs one request, retrying with exponential backoff while the service answers 429
func (c *VerifierClient) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var lastErr error

	for attempt := range rateLimitRetries {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		if c.authProvider != nil {
			headers, err := c.authProvider.GetAuthHeaders(ctx)
			if err != nil {
				return 0, nil, fmt.Errorf("failed to get auth headers: %w", err)
			}
			for k, v := range headers {
				req.Header.Set(k, v)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: verifier request failed: %v", ledgerpay.ErrServiceUnavailable, err)
		}

		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return 0, nil, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp.StatusCode, responseBody, nil
		}

		lastErr = fmt.Errorf("%w: verifier %s rate limited: %s", ledgerpay.ErrRateLimited, path, string(responseBody))

		if attempt < rateLimitRetries-1 {
			delay := c.retryDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			}
		}
	}

	return 0, nil, lastErr
}
