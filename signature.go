package ledgerpay

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// SignatureRequestor hands instructions to the external signer. It is the only point where
// user consent is obtained, so it calls the signer exactly once per instruction.
type SignatureRequestor struct {
	signer Signer
	logger *zap.Logger
}

// NewSignatureRequestor wraps a signer capability. A nil signer is allowed and
// makes every request fail with signer_unavailable.
func NewSignatureRequestor(signer Signer, logger *zap.Logger) *SignatureRequestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignatureRequestor{signer: signer, logger: logger}
}

// RequestSignature obtains a signed envelope or a classified rejection
func (r *SignatureRequestor) RequestSignature(ctx context.Context, instruction TransferInstruction) (SignedEnvelope, error) {
	log := r.logger.With(
		zap.String("source", instruction.SourceAccount),
		zap.String("destination", instruction.DestinationAccount),
		zap.String("asset", instruction.Asset.String()),
		zap.String("amount", instruction.Amount),
	)

	if r.signer == nil {
		log.Warn("no signer configured")
		return SignedEnvelope{}, &PaymentError{
			Code:    ErrCodeSignerUnavailable,
			Message: "no signer configured",
			Details: instruction.details(),
		}
	}

	envelope, err := r.signer.SignTransfer(ctx, instruction)
	if err != nil {
		perr := classifySignerError(err, instruction)
		log.Info("signature not obtained", zap.String("code", perr.Code), zap.Error(err))
		return SignedEnvelope{}, perr
	}

	if envelope.XDR == "" {
		log.Error("signer returned an empty envelope")
		return SignedEnvelope{}, &PaymentError{
			Code:    ErrCodeSignerError,
			Message: "signer returned an empty envelope",
			Details: instruction.details(),
		}
	}

	log.Debug("signature obtained", zap.String("hash", envelope.Hash), zap.Int("signatures", envelope.Signatures))
	return envelope, nil
}

func classifySignerError(err error, instruction TransferInstruction) *PaymentError {
	code := ErrCodeSignerError
	switch {
	case errors.Is(err, ErrUserRejected):
		code = ErrCodeUserRejected
	case errors.Is(err, ErrSignerUnavailable):
		code = ErrCodeSignerUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeSignerUnavailable
	}
	return wrapPaymentError(code, err, instruction.details())
}
