package ledgerpay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// LedgerSubmitter sends a signed envelope to the network exactly once per call.
//
// Resending the same envelope after a lost response risks a double payment, so
// retry policy belongs to the caller, who must build a fresh instruction with a
// new validity window.
type LedgerSubmitter struct {
	mu     sync.RWMutex
	ledger Ledger
	logger *zap.Logger

	beforeSubmitHooks []BeforeSubmitHook
	afterSubmitHooks  []AfterSubmitHook
}

// NewLedgerSubmitter creates a submitter over the ledger boundary
func NewLedgerSubmitter(ledger Ledger, logger *zap.Logger) *LedgerSubmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerSubmitter{ledger: ledger, logger: logger}
}

func (s *LedgerSubmitter) OnBeforeSubmit(hook BeforeSubmitHook) *LedgerSubmitter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeSubmitHooks = append(s.beforeSubmitHooks, hook)
	return s
}

func (s *LedgerSubmitter) OnAfterSubmit(hook AfterSubmitHook) *LedgerSubmitter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterSubmitHooks = append(s.afterSubmitHooks, hook)
	return s
}

// Submit performs the single submission attempt
func (s *LedgerSubmitter) Submit(ctx context.Context, envelope SignedEnvelope) (SettlementReference, error) {
	s.mu.RLock()
	beforeHooks := s.beforeSubmitHooks
	afterHooks := s.afterSubmitHooks
	s.mu.RUnlock()

	ctx, span := tracer.Start(ctx, "ledgerpay.submit")
	defer span.End()
	span.SetAttributes(attribute.String("ledgerpay.envelope_hash", envelope.Hash))

	if envelope.XDR == "" {
		return "", constructionError("envelope is empty")
	}

	hookCtx := SubmitContext{Ctx: ctx, Envelope: envelope, Timestamp: time.Now()}
	for _, hook := range beforeHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return "", fmt.Errorf("before submit hook: %w", err)
		}
		if result != nil && result.Abort {
			return "", NewSubmissionRejectedError(result.Reason, map[string]interface{}{"abortedBy": "hook"})
		}
	}

	log := s.logger.With(zap.String("envelope_hash", envelope.Hash))
	start := time.Now()

	reference, err := s.ledger.Submit(ctx, envelope)
	if err == nil && reference == "" {
		err = NewPaymentError(ErrCodeServiceUnavailable, "ledger accepted the envelope without a reference", nil)
	}
	if err != nil {
		err = classifySubmitError(err, envelope)
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorCode(err))
		log.Warn("submission failed", zap.String("code", ErrorCode(err)), zap.Error(err))
	} else {
		span.SetAttributes(attribute.String("ledgerpay.reference", reference.String()))
		log.Info("submission accepted", zap.String("reference", reference.String()))
	}

	resultCtx := SubmitResultContext{
		SubmitContext: hookCtx,
		Reference:     reference,
		Error:         err,
		Duration:      time.Since(start),
	}
	for _, hook := range afterHooks {
		hook(resultCtx)
	}

	if err != nil {
		return "", err
	}
	return reference, nil
}

func classifySubmitError(err error, envelope SignedEnvelope) error {
	var pe *PaymentError
	if errors.As(err, &pe) && pe.Code == ErrCodeSubmissionRejected {
		rejected := *pe
		rejected.Details = make(map[string]interface{}, len(pe.Details)+1)
		for k, v := range pe.Details {
			rejected.Details[k] = v
		}
		if _, ok := rejected.Details["envelopeHash"]; !ok && envelope.Hash != "" {
			rejected.Details["envelopeHash"] = envelope.Hash
		}
		return &rejected
	}
	details := map[string]interface{}{"envelopeHash": envelope.Hash}
	if errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return wrapPaymentError(ErrCodeServiceUnavailable, err, details)
	}
	return wrapPaymentError(ErrCodeSubmissionRejected, err, details)
}
