package stellar

import (
	"fmt"
	"regexp"

	"github.com/stellar/go/strkey"

	ledgerpay "github.com/x402-foundation/ledgerpay"
)

var assetCodePattern = regexp.MustCompile(`^[a-zA-Z0-9]{1,12}$`)

// ValidateAccount checks for a well-formed G... public key
func ValidateAccount(account string) error {
	if !strkey.IsValidEd25519PublicKey(account) {
		return fmt.Errorf("%q is not a valid stellar account", account)
	}
	return nil
}

// ValidateAsset checks the asset code format and the issuer's strkey
func ValidateAsset(asset ledgerpay.Asset) error {
	if asset.IsNative() {
		return nil
	}
	if !assetCodePattern.MatchString(asset.Code) {
		return fmt.Errorf("asset code %q must be 1-12 alphanumeric characters", asset.Code)
	}
	if err := ValidateAccount(asset.Issuer); err != nil {
		return fmt.Errorf("issuer: %w", err)
	}
	return nil
}

// NewTransferBuilder returns a builder that validates stellar accounts and assets
func NewTransferBuilder(opts ...ledgerpay.BuilderOption) *ledgerpay.TransferBuilder {
	base := []ledgerpay.BuilderOption{
		ledgerpay.WithAccountValidator(ValidateAccount),
		ledgerpay.WithAssetValidator(ValidateAsset),
	}
	return ledgerpay.NewTransferBuilder(append(base, opts...)...)
}
