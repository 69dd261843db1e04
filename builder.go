package ledgerpay

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MaxAmountDecimals is the ledger's fixed amount precision (one stroop = 0.0000001)
	MaxAmountDecimals = 7

	// MaxMemoBytes is the ledger's text memo limit
	MaxMemoBytes = 28

	// maxAssetCodeLength is the longest alphanumeric asset code the ledger accepts
	maxAssetCodeLength = 12
)

// MaxAmount is the largest amount the ledger can carry: int64 stroops, 922337203685.4775807
var MaxAmount = decimal.New(math.MaxInt64, -MaxAmountDecimals)

// TransferBuilder constructs unsigned transfer instructions. It never touches the network:
// the caller supplies the payer's current sequence number.
type TransferBuilder struct {
	maxMemoBytes     int
	maxDecimals      int32
	validityWindow   time.Duration
	accountValidator AccountValidator
	assetValidator   AssetValidator
	now              func() time.Time
}

// BuilderOption configures the builder
type BuilderOption func(*TransferBuilder)

// WithValidityWindow sets how long built instructions remain submittable
func WithValidityWindow(window time.Duration) BuilderOption {
	return func(b *TransferBuilder) {
		b.validityWindow = window
	}
}

// WithMaxMemoBytes overrides the memo size limit
func WithMaxMemoBytes(n int) BuilderOption {
	return func(b *TransferBuilder) {
		b.maxMemoBytes = n
	}
}

// WithAccountValidator plugs in the ledger's account identifier check
func WithAccountValidator(v AccountValidator) BuilderOption {
	return func(b *TransferBuilder) {
		b.accountValidator = v
	}
}

// WithAssetValidator plugs in the ledger's asset check
func WithAssetValidator(v AssetValidator) BuilderOption {
	return func(b *TransferBuilder) {
		b.assetValidator = v
	}
}

// WithClock sets the time source used for the validity window
func WithClock(now func() time.Time) BuilderOption {
	return func(b *TransferBuilder) {
		b.now = now
	}
}

// NewTransferBuilder creates a builder with ledger defaults
func NewTransferBuilder(opts ...BuilderOption) *TransferBuilder {
	b := &TransferBuilder{
		maxMemoBytes:   MaxMemoBytes,
		maxDecimals:    MaxAmountDecimals,
		validityWindow: DefaultValidityWindow,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build validates the request and returns an instruction for sequence currentSequence+1
func (b *TransferBuilder) Build(req TransferRequest, currentSequence int64) (TransferInstruction, error) {
	if err := b.checkAccount("source", req.SourceAccount); err != nil {
		return TransferInstruction{}, err
	}
	if err := b.checkAccount("destination", req.DestinationAccount); err != nil {
		return TransferInstruction{}, err
	}
	if req.SourceAccount == req.DestinationAccount {
		return TransferInstruction{}, constructionError("source and destination are the same account")
	}

	if err := b.checkAsset(req.Asset); err != nil {
		return TransferInstruction{}, err
	}

	amount, err := b.normalizeAmount(req.Amount)
	if err != nil {
		return TransferInstruction{}, err
	}

	if len(req.Memo) > b.maxMemoBytes {
		return TransferInstruction{}, constructionError("memo is %d bytes, limit is %d", len(req.Memo), b.maxMemoBytes)
	}

	if currentSequence < 0 {
		return TransferInstruction{}, constructionError("sequence number cannot be negative: %d", currentSequence)
	}
	if b.validityWindow <= 0 {
		return TransferInstruction{}, constructionError("validity window must be positive")
	}

	return TransferInstruction{
		SourceAccount:      req.SourceAccount,
		DestinationAccount: req.DestinationAccount,
		Asset:              req.Asset,
		Amount:             amount,
		Memo:               req.Memo,
		SequenceNumber:     currentSequence + 1,
		ValidityWindow:     b.validityWindow,
		ValidUntil:         b.now().Add(b.validityWindow).UTC().Truncate(time.Second),
	}, nil
}

// normalizeAmount rejects non-positive or over-precise amounts and renders the rest
// with exactly MaxAmountDecimals places
func (b *TransferBuilder) normalizeAmount(raw string) (string, error) {
	amount, err := parseAmount(raw)
	if err != nil {
		return "", constructionError("%v", err)
	}
	if !amount.IsPositive() {
		return "", constructionError("amount must be positive: %s", raw)
	}
	if !amount.Equal(amount.Truncate(b.maxDecimals)) {
		return "", constructionError("amount %s has more than %d decimal places", raw, b.maxDecimals)
	}
	if amount.GreaterThan(MaxAmount) {
		return "", constructionError("amount %s exceeds the ledger maximum %s", raw, MaxAmount.StringFixed(MaxAmountDecimals))
	}
	return amount.StringFixed(b.maxDecimals), nil
}

func (b *TransferBuilder) checkAccount(role, account string) error {
	if strings.TrimSpace(account) == "" {
		return constructionError("%s account is required", role)
	}
	if b.accountValidator != nil {
		if err := b.accountValidator(account); err != nil {
			return constructionError("invalid %s account: %v", role, err)
		}
	}
	return nil
}

func (b *TransferBuilder) checkAsset(asset Asset) error {
	if asset.Code == "" {
		return constructionError("asset code is required")
	}
	if len(asset.Code) > maxAssetCodeLength {
		return constructionError("asset code %q is longer than %d characters", asset.Code, maxAssetCodeLength)
	}
	if !asset.IsNative() && asset.Issuer == "" {
		return constructionError("asset %s requires an issuer", asset.Code)
	}
	if b.assetValidator != nil {
		if err := b.assetValidator(asset); err != nil {
			return constructionError("invalid asset %s: %v", asset, err)
		}
	}
	return nil
}

func (i TransferInstruction) details() map[string]interface{} {
	return map[string]interface{}{
		"asset":       i.Asset.String(),
		"amount":      i.Amount,
		"destination": i.DestinationAccount,
		"sequence":    fmt.Sprintf("%d", i.SequenceNumber),
	}
}
