package stellar

import (
	"fmt"

	"github.com/stellar/go/txnbuild"

	ledgerpay "github.com/x402-foundation/ledgerpay"
)

// TxnAsset converts an asset to its txnbuild form
func TxnAsset(asset ledgerpay.Asset) txnbuild.Asset {
	if asset.IsNative() {
		return txnbuild.NativeAsset{}
	}
	return txnbuild.CreditAsset{Code: asset.Code, Issuer: asset.Issuer}
}

// BuildTransaction turns an instruction into an unsigned single-payment transaction.
// The instruction already carries the next sequence number, so it is used as is.
func BuildTransaction(instruction ledgerpay.TransferInstruction, baseFee int64) (*txnbuild.Transaction, error) {
	if baseFee <= 0 {
		baseFee = txnbuild.MinBaseFee
	}

	var memo txnbuild.Memo
	if instruction.Memo != "" {
		memo = txnbuild.MemoText(instruction.Memo)
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount: &txnbuild.SimpleAccount{
			AccountID: instruction.SourceAccount,
			Sequence:  instruction.SequenceNumber,
		},
		IncrementSequenceNum: false,
		Operations: []txnbuild.Operation{
			&txnbuild.Payment{
				Destination: instruction.DestinationAccount,
				Amount:      instruction.Amount,
				Asset:       TxnAsset(instruction.Asset),
			},
		},
		BaseFee: baseFee,
		Memo:    memo,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimebounds(0, instruction.ValidUntil.Unix()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return tx, nil
}

// UnsignedXDR builds the transaction and returns its base64 envelope and hash
func UnsignedXDR(instruction ledgerpay.TransferInstruction, baseFee int64, passphrase string) (xdr, hash string, err error) {
	tx, err := BuildTransaction(instruction, baseFee)
	if err != nil {
		return "", "", err
	}
	if xdr, err = tx.Base64(); err != nil {
		return "", "", fmt.Errorf("failed to encode transaction: %w", err)
	}
	if hash, err = tx.HashHex(passphrase); err != nil {
		return "", "", fmt.Errorf("failed to hash transaction: %w", err)
	}
	return xdr, hash, nil
}

// Envelope serializes a signed transaction
func Envelope(tx *txnbuild.Transaction, passphrase string) (ledgerpay.SignedEnvelope, error) {
	encoded, err := tx.Base64()
	if err != nil {
		return ledgerpay.SignedEnvelope{}, fmt.Errorf("failed to encode transaction: %w", err)
	}
	hash, err := tx.HashHex(passphrase)
	if err != nil {
		return ledgerpay.SignedEnvelope{}, fmt.Errorf("failed to hash transaction: %w", err)
	}
	return ledgerpay.SignedEnvelope{
		XDR:        encoded,
		Hash:       hash,
		Signatures: len(tx.Signatures()),
	}, nil
}

// ParseTransaction decodes a base64 envelope. Fee-bump envelopes are rejected.
func ParseTransaction(envelopeXDR string) (*txnbuild.Transaction, error) {
	generic, err := txnbuild.TransactionFromXDR(envelopeXDR)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction envelope: %w", err)
	}
	tx, ok := generic.Transaction()
	if !ok {
		return nil, fmt.Errorf("fee bump envelopes are not supported")
	}
	return tx, nil
}

// EnvelopeHash recomputes the transaction hash of a serialized envelope
func EnvelopeHash(envelopeXDR, passphrase string) (string, error) {
	tx, err := ParseTransaction(envelopeXDR)
	if err != nil {
		return "", err
	}
	return tx.HashHex(passphrase)
}
