package wallet

import "fmt"

// Default configuration values, overridable per deployment.
const (
	DefaultWarningThreshold = 100_000
	DefaultMinimumThreshold = 10_000
	DefaultMinimumTopup     = 50_000
	DefaultEntryCodePrefix  = "TRX"
)

// Config carries the deployment-specific knobs for the wallet service.
// It is passed explicitly into NewService; the package keeps no ambient state.
type Config struct {
	// WarningThreshold is the available balance at or below which the
	// account status degrades to warning.
	WarningThreshold int64
	// MinimumThreshold is the available balance at or below which the
	// account status degrades to minimum.
	MinimumThreshold int64
	// MinimumTopup is the smallest topup amount a tenant may request.
	MinimumTopup int64
	// EntryCodePrefix is the leading segment of generated entry codes.
	EntryCodePrefix string
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		WarningThreshold: DefaultWarningThreshold,
		MinimumThreshold: DefaultMinimumThreshold,
		MinimumTopup:     DefaultMinimumTopup,
		EntryCodePrefix:  DefaultEntryCodePrefix,
	}
}

// Validate checks the configuration invariants.
func (config Config) Validate() error {
	if config.WarningThreshold < 0 || config.MinimumThreshold < 0 {
		return fmt.Errorf("%w: thresholds must be non-negative", ErrInvalidServiceConfig)
	}
	if config.MinimumThreshold > config.WarningThreshold {
		return fmt.Errorf("%w: minimum threshold above warning threshold", ErrInvalidServiceConfig)
	}
	if config.MinimumTopup < 0 {
		return fmt.Errorf("%w: minimum topup must be non-negative", ErrInvalidServiceConfig)
	}
	if config.EntryCodePrefix == "" {
		return fmt.Errorf("%w: entry code prefix is required", ErrInvalidServiceConfig)
	}
	return nil
}

// StatusFor derives the display status for an available balance.
func (config Config) StatusFor(available int64) AccountStatus {
	switch {
	case available <= 0:
		return AccountStatusDepleted
	case available <= config.MinimumThreshold:
		return AccountStatusMinimum
	case available <= config.WarningThreshold:
		return AccountStatusWarning
	default:
		return AccountStatusNormal
	}
}
