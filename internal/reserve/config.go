package reserve

import "fmt"

// ValidateConfig checks that a reserve configuration is internally
// consistent before it is applied.
//
// Collateral rules: a reserve is usable as collateral exactly when its
// liquidation threshold is nonzero. In that case ltv must not exceed the
// threshold, the bonus must exceed 100%, and threshold * bonus must stay
// within 100% so a liquidator can always be made whole without the protocol
// absorbing a shortfall. A zero threshold requires a zero bonus; emptiness
// of the reserve is checked by the configurator at change time, not here.
func ValidateConfig(cfg Config) error {
	if cfg.Decimals == 0 || cfg.Decimals > 30 {
		return fmt.Errorf("decimals must be in [1,30], got %d", cfg.Decimals)
	}
	if cfg.LTVBps > 10_000 {
		return fmt.Errorf("ltv_bps must be <= 10000, got %d", cfg.LTVBps)
	}
	if cfg.LiquidationThresholdBps > 10_000 {
		return fmt.Errorf("liquidation_threshold_bps must be <= 10000, got %d", cfg.LiquidationThresholdBps)
	}
	if cfg.ReserveFactorBps > 10_000 {
		return fmt.Errorf("reserve_factor_bps must be <= 10000, got %d", cfg.ReserveFactorBps)
	}

	if cfg.LiquidationThresholdBps != 0 {
		if cfg.LTVBps > cfg.LiquidationThresholdBps {
			return fmt.Errorf("ltv_bps (%d) must be <= liquidation_threshold_bps (%d)",
				cfg.LTVBps, cfg.LiquidationThresholdBps)
		}
		if cfg.LiquidationBonusBps <= 10_000 {
			return fmt.Errorf("liquidation_bonus_bps must be > 10000, got %d", cfg.LiquidationBonusBps)
		}
		// threshold * bonus <= 100%, both in basis points.
		if cfg.LiquidationThresholdBps*cfg.LiquidationBonusBps > 10_000*10_000 {
			return fmt.Errorf("liquidation_threshold_bps (%d) * liquidation_bonus_bps (%d) exceeds 100%%",
				cfg.LiquidationThresholdBps, cfg.LiquidationBonusBps)
		}
	} else {
		if cfg.LiquidationBonusBps != 0 {
			return fmt.Errorf("liquidation_bonus_bps must be 0 when liquidation_threshold_bps is 0, got %d",
				cfg.LiquidationBonusBps)
		}
		if cfg.UsageAsCollateralEnabled {
			return fmt.Errorf("usage_as_collateral_enabled requires a nonzero liquidation threshold")
		}
	}
	return nil
}
