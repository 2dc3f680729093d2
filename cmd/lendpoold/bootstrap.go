package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"lendpool/internal/core"
	"lendpool/internal/rates"
	"lendpool/internal/reserve"
)

// bootstrapConfig is the operator-supplied TOML file naming the admin
// accounts and the genesis reserves. See config/reserves.example.toml.
type bootstrapConfig struct {
	Admins   bootstrapAdmins    `toml:"admins"`
	Reserves []bootstrapReserve `toml:"reserves"`
}

type bootstrapAdmins struct {
	PoolAdmin      string `toml:"pool_admin"`
	EmergencyAdmin string `toml:"emergency_admin"`
	RiskAdmin      string `toml:"risk_admin"`
}

type bootstrapReserve struct {
	Asset    string            `toml:"asset"`
	Config   reserve.Config    `toml:"config"`
	Strategy bootstrapStrategy `toml:"strategy"`
}

// bootstrapStrategy carries kinked-curve parameters as ray decimal strings;
// TOML has no integer type wide enough for them.
type bootstrapStrategy struct {
	OptimalUtilization     string `toml:"optimal_utilization"`
	BaseVariableBorrowRate string `toml:"base_variable_borrow_rate"`
	VariableRateSlope1     string `toml:"variable_rate_slope1"`
	VariableRateSlope2     string `toml:"variable_rate_slope2"`
	StableRateSlope1       string `toml:"stable_rate_slope1"`
	StableRateSlope2       string `toml:"stable_rate_slope2"`
}

func (b bootstrapStrategy) build() (rates.Strategy, error) {
	parse := func(name, v string) (*uint256.Int, error) {
		if v == "" {
			return nil, fmt.Errorf("strategy parameter %s is empty", name)
		}
		n, err := uint256.FromDecimal(v)
		if err != nil {
			return nil, fmt.Errorf("strategy parameter %s: %w", name, err)
		}
		return n, nil
	}

	var p rates.Params
	var err error
	if p.OptimalUtilization, err = parse("optimal_utilization", b.OptimalUtilization); err != nil {
		return nil, err
	}
	if p.BaseVariableBorrowRate, err = parse("base_variable_borrow_rate", b.BaseVariableBorrowRate); err != nil {
		return nil, err
	}
	if p.VariableRateSlope1, err = parse("variable_rate_slope1", b.VariableRateSlope1); err != nil {
		return nil, err
	}
	if p.VariableRateSlope2, err = parse("variable_rate_slope2", b.VariableRateSlope2); err != nil {
		return nil, err
	}
	if p.StableRateSlope1, err = parse("stable_rate_slope1", b.StableRateSlope1); err != nil {
		return nil, err
	}
	if p.StableRateSlope2, err = parse("stable_rate_slope2", b.StableRateSlope2); err != nil {
		return nil, err
	}
	return rates.NewKinkedStrategy(p)
}

func loadBootstrap(path string) (*bootstrapConfig, error) {
	var cfg bootstrapConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyBootstrap grants the configured roles and, on a cold start, lists the
// genesis reserves. Restored state keeps its reserves; only the in-memory
// role grants are re-applied then.
func applyBootstrap(
	cfg *bootstrapConfig,
	engine *core.PoolEngine,
	roles *core.MemoryRoleRegistry,
	logger zerolog.Logger,
) error {
	grant := func(role core.Role, id string) (uuid.UUID, error) {
		if id == "" {
			return uuid.Nil, nil
		}
		account, err := uuid.Parse(id)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%s account %q: %w", role, id, err)
		}
		roles.Grant(role, account)
		return account, nil
	}

	poolAdmin, err := grant(core.RolePoolAdmin, cfg.Admins.PoolAdmin)
	if err != nil {
		return err
	}
	if _, err := grant(core.RoleEmergencyAdmin, cfg.Admins.EmergencyAdmin); err != nil {
		return err
	}
	if _, err := grant(core.RoleRiskAdmin, cfg.Admins.RiskAdmin); err != nil {
		return err
	}

	if len(engine.ListReserves()) > 0 {
		logger.Info().Msg("reserves already listed, skipping genesis bootstrap")
		return nil
	}
	if len(cfg.Reserves) == 0 {
		return nil
	}
	if poolAdmin == uuid.Nil {
		return fmt.Errorf("genesis reserves configured but admins.pool_admin is missing")
	}

	for _, br := range cfg.Reserves {
		strategy, err := br.Strategy.build()
		if err != nil {
			return fmt.Errorf("reserve %s: %w", br.Asset, err)
		}
		err = engine.InitReserve(core.InitReserveCommand{
			Action: core.Action{
				ActionID:  uuid.New(),
				Timestamp: uint64(time.Now().Unix()),
			},
			Admin:    poolAdmin,
			Asset:    br.Asset,
			Config:   br.Config,
			Strategy: strategy,
		})
		if err != nil {
			return fmt.Errorf("init reserve %s: %w", br.Asset, err)
		}
		logger.Info().Str("asset", br.Asset).Msg("genesis reserve listed")
	}
	return nil
}
