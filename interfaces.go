package ledgerpay

import (
	"context"
)

// Signer is the external signing capability (a wallet or browser extension).
//
// Implementations report ErrSignerUnavailable when the capability is absent or
// unreachable and ErrUserRejected when the user declines. Any other error is
// treated as a signer fault and surfaced with its raw message.
type Signer interface {
	SignTransfer(ctx context.Context, instruction TransferInstruction) (SignedEnvelope, error)
}

// Ledger is the narrow query/submit boundary to the network.
//
// Implementations must not retry Submit. Query methods report ErrNotFound for a
// reference the query service does not (yet) know, ErrRateLimited when the
// service throttles, and ErrServiceUnavailable when it cannot be reached.
type Ledger interface {
	// Submit sends the envelope once and returns the settlement reference on acceptance.
	// Rejections are reported as a *PaymentError with code submission_rejected.
	Submit(ctx context.Context, envelope SignedEnvelope) (SettlementReference, error)

	// QueryByReference fetches the settlement record for a reference
	QueryByReference(ctx context.Context, reference SettlementReference) (*SettlementRecord, error)

	// QueryByAccount fetches the account's sequence and balances
	QueryByAccount(ctx context.Context, account string) (*AccountState, error)
}

// AccountValidator checks that an account identifier is well formed for the ledger
type AccountValidator func(account string) error

// AssetValidator checks that an asset is well formed for the ledger
type AssetValidator func(asset Asset) error
