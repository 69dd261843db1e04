package stellar

import (
	"context"
	"errors"
	"fmt"

	"github.com/stellar/go/keypair"

	ledgerpay "github.com/x402-foundation/ledgerpay"
	stellarmech "github.com/x402-foundation/ledgerpay/mechanisms/stellar"
)

// SignTransactionFunc defines the callback used to sign Stellar transactions.
// It receives the unsigned base64 envelope and returns the signed one. Wallet
// bridges return ledgerpay.ErrUserRejected when the user declines.
type SignTransactionFunc func(ctx context.Context, unsignedXDR string, networkPassphrase string) (string, error)

// ClientSigner implements ledgerpay.Signer using a signing callback.
// This is how a browser extension or hardware wallet plugs into the pipeline.
type ClientSigner struct {
	address         string
	passphrase      string
	baseFee         int64
	signTransaction SignTransactionFunc
}

// NewClientSigner creates a signer for one account from a signing callback.
func NewClientSigner(address, networkPassphrase string, baseFee int64, signFunc SignTransactionFunc) (*ClientSigner, error) {
	if err := stellarmech.ValidateAccount(address); err != nil {
		return nil, err
	}
	if networkPassphrase == "" {
		return nil, fmt.Errorf("network passphrase is required")
	}
	if signFunc == nil {
		return nil, fmt.Errorf("sign callback is required")
	}

	return &ClientSigner{
		address:         address,
		passphrase:      networkPassphrase,
		baseFee:         baseFee,
		signTransaction: signFunc,
	}, nil
}

// NewClientSignerFromSecret creates a signer from an S... secret seed.
//
// Example:
//
//	signer, err := stellar.NewClientSignerFromSecret(os.Getenv("PAYER_SECRET"), network.TestNetworkPassphrase, 100)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := ledgerpay.NewPaymentClient(signer, ledger)
func NewClientSignerFromSecret(secret, networkPassphrase string, baseFee int64) (*ClientSigner, error) {
	kp, err := keypair.ParseFull(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid secret seed: %w", err)
	}

	signFunc := func(ctx context.Context, unsignedXDR string, passphrase string) (string, error) {
		return signWithKeypair(kp, unsignedXDR, passphrase)
	}

	return NewClientSigner(kp.Address(), networkPassphrase, baseFee, signFunc)
}

// Address returns the Stellar account of the signer.
func (s *ClientSigner) Address() string {
	return s.address
}

// SignTransfer builds the transaction, hands it to the callback and checks that
// what came back is the same transaction with at least one signature.
func (s *ClientSigner) SignTransfer(ctx context.Context, instruction ledgerpay.TransferInstruction) (ledgerpay.SignedEnvelope, error) {
	if instruction.SourceAccount != s.address {
		return ledgerpay.SignedEnvelope{}, fmt.Errorf("signer holds %s, instruction is for %s", s.address, instruction.SourceAccount)
	}

	unsigned, hash, err := stellarmech.UnsignedXDR(instruction, s.baseFee, s.passphrase)
	if err != nil {
		return ledgerpay.SignedEnvelope{}, err
	}

	signed, err := s.signTransaction(ctx, unsigned, s.passphrase)
	if err != nil {
		return ledgerpay.SignedEnvelope{}, err
	}

	tx, err := stellarmech.ParseTransaction(signed)
	if err != nil {
		return ledgerpay.SignedEnvelope{}, fmt.Errorf("signer returned an unreadable envelope: %w", err)
	}
	envelope, err := stellarmech.Envelope(tx, s.passphrase)
	if err != nil {
		return ledgerpay.SignedEnvelope{}, err
	}
	if envelope.Hash != hash {
		return ledgerpay.SignedEnvelope{}, errors.New("signer altered the transaction")
	}
	if envelope.Signatures == 0 {
		return ledgerpay.SignedEnvelope{}, errors.New("signer returned an unsigned envelope")
	}
	return envelope, nil
}

func signWithKeypair(kp *keypair.Full, unsignedXDR, passphrase string) (string, error) {
	tx, err := stellarmech.ParseTransaction(unsignedXDR)
	if err != nil {
		return "", err
	}
	tx, err = tx.Sign(passphrase, kp)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	return tx.Base64()
}
