package ledgerpay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentAttempt is one build, sign and submit run. A non-empty Reference means
// the envelope reached the network and must be verified before crediting.
type PaymentAttempt struct {
	ID          string              `json:"id"`
	Instruction TransferInstruction `json:"instruction"`
	Reference   SettlementReference `json:"reference,omitempty"`
	SubmittedAt time.Time           `json:"submittedAt,omitempty"`

	// PreviousBalance is the payer's balance before submission, set by Prepare
	PreviousBalance *BalanceSnapshot `json:"previousBalance,omitempty"`
}

// Expectation returns what a settlement of this attempt must contain
func (a *PaymentAttempt) Expectation() Expectation {
	return Expectation{
		Asset:       a.Instruction.Asset,
		Destination: a.Instruction.DestinationAccount,
		Amount:      a.Instruction.Amount,
	}
}

// VerificationRequest returns the request that verifies this attempt
func (a *PaymentAttempt) VerificationRequest() VerificationRequest {
	return VerificationRequest{
		Reference:       a.Reference,
		Expected:        a.Expectation(),
		PreviousBalance: a.PreviousBalance,
	}
}

// PaymentClient drives the payer side: build, request a signature, submit once.
// Verification is a separate step so callers can hand the reference to a verifier
// running elsewhere.
type PaymentClient struct {
	builder   *TransferBuilder
	requestor *SignatureRequestor
	submitter *LedgerSubmitter
	ledger    Ledger
	logger    *zap.Logger
	now       func() time.Time
}

// ClientOption configures the client
type ClientOption func(*PaymentClient)

// WithLogger sets the structured logger
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *PaymentClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBuilder replaces the default TransferBuilder
func WithBuilder(builder *TransferBuilder) ClientOption {
	return func(c *PaymentClient) {
		if builder != nil {
			c.builder = builder
		}
	}
}

// WithSubmitter replaces the default LedgerSubmitter, e.g. one carrying hooks
func WithSubmitter(submitter *LedgerSubmitter) ClientOption {
	return func(c *PaymentClient) {
		if submitter != nil {
			c.submitter = submitter
		}
	}
}

// NewPaymentClient wires the pipeline over a signer and a ledger
func NewPaymentClient(signer Signer, ledger Ledger, opts ...ClientOption) *PaymentClient {
	c := &PaymentClient{
		ledger: ledger,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.builder == nil {
		c.builder = NewTransferBuilder()
	}
	if c.submitter == nil {
		c.submitter = NewLedgerSubmitter(ledger, c.logger)
	}
	c.requestor = NewSignatureRequestor(signer, c.logger)
	return c
}

// RequestPayment builds the instruction for currentSequence+1, obtains the
// signature and submits. Any signer rejection halts the run before submission;
// the returned error then carries no reference and nothing reached the network.
func (c *PaymentClient) RequestPayment(ctx context.Context, req TransferRequest, currentSequence int64) (*PaymentAttempt, error) {
	return c.run(ctx, req, currentSequence, nil)
}

// Prepare reads the payer's sequence and pre-transfer balance from the ledger,
// then runs RequestPayment. The snapshot enables the balance-delta fallback.
func (c *PaymentClient) Prepare(ctx context.Context, req TransferRequest) (*PaymentAttempt, error) {
	if c.ledger == nil {
		return nil, NewPaymentError(ErrCodeServiceUnavailable, "no ledger configured", nil)
	}
	state, err := c.ledger.QueryByAccount(ctx, req.SourceAccount)
	if err == nil && state == nil {
		err = ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load source account %s: %w", req.SourceAccount, err)
	}
	snapshot := state.Balance(req.Asset)
	if snapshot.Account == "" {
		snapshot.Account = req.SourceAccount
	}
	if snapshot.TakenAt.IsZero() {
		snapshot.TakenAt = c.now().UTC()
	}
	return c.run(ctx, req, state.Sequence, &snapshot)
}

func (c *PaymentClient) run(ctx context.Context, req TransferRequest, currentSequence int64, previous *BalanceSnapshot) (*PaymentAttempt, error) {
	attempt := &PaymentAttempt{ID: uuid.New().String(), PreviousBalance: previous}
	log := c.logger.With(zap.String("attempt_id", attempt.ID))

	instruction, err := c.builder.Build(req, currentSequence)
	if err != nil {
		log.Info("transfer rejected at construction", zap.Error(err))
		return nil, err
	}
	attempt.Instruction = instruction

	envelope, err := c.requestor.RequestSignature(ctx, instruction)
	if err != nil {
		return attempt, err
	}

	reference, err := c.submitter.Submit(ctx, envelope)
	if err != nil {
		return attempt, err
	}

	attempt.Reference = reference
	attempt.SubmittedAt = c.now().UTC()
	log.Info("payment submitted",
		zap.String("reference", reference.String()),
		zap.String("asset", instruction.Asset.String()),
		zap.String("amount", instruction.Amount),
		zap.String("destination", instruction.DestinationAccount),
	)
	return attempt, nil
}
