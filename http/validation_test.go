package http

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateVerifyRequest(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		valid bool
	}{
		{
			name:  "reference only",
			body:  `{"reference": "abc", "expected": {"asset": {"code": "USDC", "issuer": "GISSUER"}, "destination": "GDEST", "amount": "100"}}`,
			valid: true,
		},
		{
			name:  "snapshot only",
			body:  `{"expected": {"asset": {"code": "XLM"}, "destination": "GDEST", "amount": "1.5"}, "previousBalance": {"account": "GPAYER", "asset": {"code": "XLM"}, "amount": "10"}}`,
			valid: true,
		},
		{
			name:  "empty reference without snapshot",
			body:  `{"reference": "", "expected": {"asset": {"code": "XLM"}, "destination": "GDEST", "amount": "1"}}`,
			valid: false,
		},
		{
			name:  "negative amount",
			body:  `{"reference": "abc", "expected": {"asset": {"code": "XLM"}, "destination": "GDEST", "amount": "-1"}}`,
			valid: false,
		},
		{
			name:  "asset code too long",
			body:  `{"reference": "abc", "expected": {"asset": {"code": "ABCDEFGHIJKLM"}, "destination": "GDEST", "amount": "1"}}`,
			valid: false,
		},
		{
			name:  "bad snapshot time",
			body:  `{"expected": {"asset": {"code": "XLM"}, "destination": "GDEST", "amount": "1"}, "previousBalance": {"account": "GPAYER", "asset": {"code": "XLM"}, "amount": "10", "takenAt": "yesterday"}}`,
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateVerifyRequest([]byte(tt.body))
			assert.Equal(t, tt.valid, result.Valid, result.Errors)
			if !tt.valid {
				assert.NotEmpty(t, result.Errors)
			}
		})
	}
}

func TestValidateBalanceVerifyRequest(t *testing.T) {
	valid := ValidateBalanceVerifyRequest([]byte(`{"previous": {"account": "GPAYER", "asset": {"code": "XLM"}, "amount": "10.25"}, "amount": "5"}`))
	assert.True(t, valid.Valid, valid.Errors)

	missing := ValidateBalanceVerifyRequest([]byte(`{"amount": "5"}`))
	assert.False(t, missing.Valid)

	empty := ValidateBalanceVerifyRequest(nil)
	assert.False(t, empty.Valid)
	assert.Equal(t, []string{"request body is empty"}, empty.Errors)
}
