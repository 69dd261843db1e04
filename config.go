package ledgerpay

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	// DefaultMaxVerificationAttempts is the number of reference lookups before giving up
	DefaultMaxVerificationAttempts = 5

	// DefaultRetryInterval is the fixed delay between reference lookups
	DefaultRetryInterval = 2 * time.Second

	// DefaultValidityWindow is how long a built instruction stays submittable
	// 300 seconds (5 minutes) to leave the user time to review and sign
	DefaultValidityWindow = 300 * time.Second

	// DefaultBaseFee is the per-operation fee offered, in stroops
	DefaultBaseFee = 100
)

// Config validation errors
var (
	ErrInvalidAttempts      = errors.New("ledgerpay: maxVerificationAttempts must be positive")
	ErrInvalidRetryInterval = errors.New("ledgerpay: retryIntervalSeconds must be positive")
	ErrInvalidDeadline      = errors.New("ledgerpay: verificationDeadlineSeconds cannot be negative")
	ErrInvalidWindow        = errors.New("ledgerpay: validity window must be positive")
)

// Config is constructed once at process start and passed explicitly to every component.
type Config struct {
	// Network the instructions are built for (e.g. "stellar:testnet")
	Network Network

	// HorizonURL overrides the network's default query/submit endpoint (optional)
	HorizonURL string

	// MaxVerificationAttempts bounds reference lookups (default: 5)
	MaxVerificationAttempts int

	// RetryInterval is the fixed delay between lookups (default: 2s). Validate
	// rejects zero; NewSettlementVerifier treats an unset zero as the default.
	RetryInterval time.Duration

	// VerificationDeadline bounds one verification in wall time. Zero means
	// the attempt count is the only bound.
	VerificationDeadline time.Duration

	// ValidityWindow is how long a built instruction may be submitted (default: 300s)
	ValidityWindow time.Duration

	// BaseFee offered per operation in stroops (default: 100)
	BaseFee int64
}

// DefaultConfig returns a config with every recognized option at its default
func DefaultConfig() Config {
	return Config{
		MaxVerificationAttempts: DefaultMaxVerificationAttempts,
		RetryInterval:           DefaultRetryInterval,
		ValidityWindow:          DefaultValidityWindow,
		BaseFee:                 DefaultBaseFee,
	}
}

// Validate checks the config for values the verifier cannot run with
func (c Config) Validate() error {
	if c.MaxVerificationAttempts <= 0 {
		return ErrInvalidAttempts
	}
	if c.RetryInterval <= 0 {
		return ErrInvalidRetryInterval
	}
	if c.VerificationDeadline < 0 {
		return ErrInvalidDeadline
	}
	if c.ValidityWindow <= 0 {
		return ErrInvalidWindow
	}
	if c.Network != "" {
		if _, _, err := c.Network.Parse(); err != nil {
			return err
		}
	}
	return nil
}

// withDefaults fills zero-valued options
func (c Config) withDefaults() Config {
	if c.MaxVerificationAttempts == 0 {
		c.MaxVerificationAttempts = DefaultMaxVerificationAttempts
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.ValidityWindow == 0 {
		c.ValidityWindow = DefaultValidityWindow
	}
	if c.BaseFee == 0 {
		c.BaseFee = DefaultBaseFee
	}
	return c
}

// Environment variables read by LoadConfigFromEnv
const (
	EnvNetwork                     = "LEDGERPAY_NETWORK"
	EnvHorizonURL                  = "LEDGERPAY_HORIZON_URL"
	EnvMaxVerificationAttempts     = "LEDGERPAY_MAX_VERIFICATION_ATTEMPTS"
	EnvRetryIntervalSeconds        = "LEDGERPAY_RETRY_INTERVAL_SECONDS"
	EnvVerificationDeadlineSeconds = "LEDGERPAY_VERIFICATION_DEADLINE_SECONDS"
	EnvValidityWindowSeconds       = "LEDGERPAY_VALIDITY_WINDOW_SECONDS"
)

// LoadConfigFromEnv builds a Config from LEDGERPAY_* variables on top of DefaultConfig.
// Call it once in main; library code never reads the environment.
func LoadConfigFromEnv() (Config, error) {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()

	if v := getenv(EnvNetwork); v != "" {
		cfg.Network = Network(v)
	}
	cfg.HorizonURL = getenv(EnvHorizonURL)

	if v := getenv(EnvMaxVerificationAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvMaxVerificationAttempts, err)
		}
		cfg.MaxVerificationAttempts = n
	}

	seconds := []struct {
		key    string
		target *time.Duration
	}{
		{EnvRetryIntervalSeconds, &cfg.RetryInterval},
		{EnvVerificationDeadlineSeconds, &cfg.VerificationDeadline},
		{EnvValidityWindowSeconds, &cfg.ValidityWindow},
	}
	for _, s := range seconds {
		v := getenv(s.key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", s.key, err)
		}
		*s.target = time.Duration(f * float64(time.Second))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
