package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"pairlend/native/lending"
)

// Validate checks the normalized configuration.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config: configuration is missing")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: LogLevel %q must be debug, info, warn or error", cfg.LogLevel)
	}
	if _, _, err := cfg.Roles.Addresses(); err != nil {
		return err
	}
	if _, err := cfg.Risk.Parameters(); err != nil {
		return err
	}
	return nil
}

// Addresses parses the configured factory roles.
func (r Roles) Addresses() (admin, reservesAdmin common.Address, err error) {
	if admin, err = parseAddress("roles.Admin", r.Admin); err != nil {
		return common.Address{}, common.Address{}, err
	}
	if reservesAdmin, err = parseAddress("roles.ReservesAdmin", r.ReservesAdmin); err != nil {
		return common.Address{}, common.Address{}, err
	}
	return admin, reservesAdmin, nil
}

func parseAddress(field, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("config: %s %q is not a hex address", field, value)
	}
	addr := common.HexToAddress(value)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("config: %s must not be the zero address", field)
	}
	return addr, nil
}

// Parameters converts the overrides into engine risk parameters, starting
// from the engine defaults, and checks them against their bounds.
func (r Risk) Parameters() (lending.RiskParameters, error) {
	params := lending.DefaultRiskParameters()
	overrides := []struct {
		field string
		value string
		apply func(string) error
	}{
		{"risk.ReserveFactor", r.ReserveFactor, func(v string) (err error) {
			params.ReserveFactor, err = lending.ParseMantissa(v)
			return err
		}},
		{"risk.KinkUtilizationRate", r.KinkUtilizationRate, func(v string) (err error) {
			params.KinkUtilizationRate, err = lending.ParseMantissa(v)
			return err
		}},
		{"risk.AdjustSpeedPerDay", r.AdjustSpeedPerDay, func(v string) (err error) {
			params.AdjustSpeed, err = lending.PerSecond(v, lending.SecondsPerDay)
			return err
		}},
		{"risk.KinkBorrowRatePerYear", r.KinkBorrowRatePerYear, func(v string) (err error) {
			params.KinkBorrowRate, err = lending.PerSecond(v, lending.SecondsPerYear)
			return err
		}},
		{"risk.SafetyMargin", r.SafetyMargin, func(v string) (err error) {
			params.SafetyMarginSqrt, err = lending.SqrtMantissa(v)
			return err
		}},
		{"risk.LiquidationIncentive", r.LiquidationIncentive, func(v string) (err error) {
			params.LiquidationIncentive, err = lending.ParseMantissa(v)
			return err
		}},
	}
	for _, o := range overrides {
		value := strings.TrimSpace(o.value)
		if value == "" {
			continue
		}
		if err := o.apply(value); err != nil {
			return lending.RiskParameters{}, fmt.Errorf("config: invalid %s: %w", o.field, err)
		}
	}
	if err := params.Validate(); err != nil {
		return lending.RiskParameters{}, fmt.Errorf("config: risk: %w", err)
	}
	return params, nil
}
