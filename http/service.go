package http

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	ledgerpay "github.com/x402-foundation/ledgerpay"
	"github.com/x402-foundation/ledgerpay/types"
)

// Verifier is what the service needs from a settlement verifier.
// *ledgerpay.SettlementVerifier, the idempotency wrapper and *VerifierClient satisfy it.
type Verifier interface {
	Verify(ctx context.Context, req ledgerpay.VerificationRequest) (*ledgerpay.VerifyResult, error)
	VerifyBalanceDelta(ctx context.Context, previous ledgerpay.BalanceSnapshot, expected string) (*ledgerpay.VerifyResult, error)
}

// Error codes produced by the service itself
const (
	ErrCodeInvalidRequest     = "invalid_request"
	ErrCodeUnsupportedNetwork = "unsupported_network"
)

// ServiceConfig configures the verification service
type ServiceConfig struct {
	// Verifiers by network; patterns like "stellar:*" are allowed
	Verifiers map[ledgerpay.Network]Verifier

	// DefaultNetwork is used when a request names none
	DefaultNetwork ledgerpay.Network

	// RequestTimeout bounds one request (optional, defaults to 60s)
	RequestTimeout time.Duration

	// Version reported by /health
	Version string

	Logger *zap.Logger
}

// VerificationService turns wire requests into verifier calls. It is
// transport neutral; the gin and echo adapters only move bytes.
type VerificationService struct {
	verifiers      map[ledgerpay.Network]Verifier
	defaultNetwork ledgerpay.Network
	timeout        time.Duration
	version        string
	logger         *zap.Logger
}

// NewVerificationService creates the service
func NewVerificationService(config ServiceConfig) *VerificationService {
	timeout := config.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	version := config.Version
	if version == "" {
		version = "dev"
	}
	return &VerificationService{
		verifiers:      config.Verifiers,
		defaultNetwork: config.DefaultNetwork,
		timeout:        timeout,
		version:        version,
		logger:         logger,
	}
}

// Health reports the networks the service can verify
func (s *VerificationService) Health() types.HealthResponse {
	networks := make([]string, 0, len(s.verifiers))
	for n := range s.verifiers {
		networks = append(networks, string(n))
	}
	sort.Strings(networks)
	return types.HealthResponse{Status: "ok", Version: s.version, Networks: networks}
}

// HandleVerify serves POST /verify
func (s *VerificationService) HandleVerify(ctx context.Context, requestID string, body []byte) (int, types.VerifyResponse) {
	if v := ValidateVerifyRequest(body); !v.Valid {
		return invalidRequest(requestID, v.Errors)
	}
	wire, err := types.ToVerifyRequest(body)
	if err != nil {
		return invalidRequest(requestID, []string{err.Error()})
	}
	req, err := wire.ToLedger()
	if err != nil {
		return invalidRequest(requestID, []string{err.Error()})
	}

	verifier, status, resp := s.resolve(requestID, wire.Network)
	if verifier == nil {
		return status, resp
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	log := s.logger.With(zap.String("request_id", requestID), zap.String("reference", wire.Reference))
	result, err := verifier.Verify(ctx, req)
	return s.respond(log, requestID, result, err)
}

// HandleVerifyBalance serves POST /verify/balance
func (s *VerificationService) HandleVerifyBalance(ctx context.Context, requestID string, body []byte) (int, types.VerifyResponse) {
	if v := ValidateBalanceVerifyRequest(body); !v.Valid {
		return invalidRequest(requestID, v.Errors)
	}
	wire, err := types.ToBalanceVerifyRequest(body)
	if err != nil {
		return invalidRequest(requestID, []string{err.Error()})
	}
	previous, err := wire.Previous.ToLedger()
	if err != nil {
		return invalidRequest(requestID, []string{err.Error()})
	}

	verifier, status, resp := s.resolve(requestID, wire.Network)
	if verifier == nil {
		return status, resp
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	log := s.logger.With(zap.String("request_id", requestID), zap.String("account", previous.Account))
	result, err := verifier.VerifyBalanceDelta(ctx, previous, wire.Amount)
	return s.respond(log, requestID, result, err)
}

func (s *VerificationService) resolve(requestID, network string) (Verifier, int, types.VerifyResponse) {
	n := ledgerpay.Network(network)
	if n == "" {
		n = s.defaultNetwork
	}
	verifier, ok := ledgerpay.FindByNetwork(s.verifiers, n)
	if !ok || verifier == nil {
		return nil, http.StatusBadRequest, types.VerifyResponse{
			RequestID: requestID,
			Error: &types.Error{
				Code:    ErrCodeUnsupportedNetwork,
				Message: "no verifier for network " + string(n),
			},
		}
	}
	return verifier, 0, types.VerifyResponse{}
}

func (s *VerificationService) respond(log *zap.Logger, requestID string, result *ledgerpay.VerifyResult, err error) (int, types.VerifyResponse) {
	resp := types.FromResult(result)
	resp.RequestID = requestID

	if err != nil {
		resp.Error = types.FromError(err)
		status := StatusForError(err)
		log.Warn("verification request failed", zap.Int("status", status), zap.Error(err))
		return status, resp
	}

	log.Info("verification request completed",
		zap.String("outcome", resp.Outcome),
		zap.Bool("verified", resp.Verified),
		zap.Int("attempts", resp.Attempts),
	)
	return http.StatusOK, resp
}

// StatusForError maps verification errors to HTTP status codes
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ledgerpay.ErrConstruction):
		return http.StatusBadRequest
	case errors.Is(err, ledgerpay.ErrVerificationTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(err, ledgerpay.ErrServiceUnavailable), errors.Is(err, ledgerpay.ErrRateLimited):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledgerpay.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func invalidRequest(requestID string, problems []string) (int, types.VerifyResponse) {
	return http.StatusBadRequest, types.VerifyResponse{
		RequestID: requestID,
		Error: &types.Error{
			Code:    ErrCodeInvalidRequest,
			Message: "request body failed validation",
			Details: map[string]interface{}{"errors": problems},
		},
	}
}
