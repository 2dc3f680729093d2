package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"lendpool/internal/core"
	"lendpool/internal/rates"
	"lendpool/internal/reserve"
)

// Admin requests carry the admin's identity in the body; the engine enforces
// role membership, the server only parses.

type reserveConfigJSON struct {
	Decimals                uint8  `json:"decimals"`
	LTVBps                  uint64 `json:"ltv_bps"`
	LiquidationThresholdBps uint64 `json:"liquidation_threshold_bps"`
	LiquidationBonusBps     uint64 `json:"liquidation_bonus_bps"`
	ReserveFactorBps        uint64 `json:"reserve_factor_bps"`
	SupplyCapUSD            uint64 `json:"supply_cap_usd"`
	BorrowCapUSD            uint64 `json:"borrow_cap_usd"`
	FlashLoanLimitUSD       uint64 `json:"flashloan_limit_usd"`

	BorrowingEnabled         bool `json:"borrowing_enabled"`
	StableBorrowEnabled      bool `json:"stable_borrow_enabled"`
	UsageAsCollateralEnabled bool `json:"usage_as_collateral_enabled"`
	YieldBoostEnabled        bool `json:"yield_boost_enabled"`
}

func (c reserveConfigJSON) toConfig() reserve.Config {
	return reserve.Config{
		Decimals:                c.Decimals,
		LTVBps:                  c.LTVBps,
		LiquidationThresholdBps: c.LiquidationThresholdBps,
		LiquidationBonusBps:     c.LiquidationBonusBps,
		ReserveFactorBps:        c.ReserveFactorBps,
		SupplyCapUSD:            c.SupplyCapUSD,
		BorrowCapUSD:            c.BorrowCapUSD,
		FlashLoanLimitUSD:       c.FlashLoanLimitUSD,
		BorrowingEnabled:        c.BorrowingEnabled,
		StableBorrowEnabled:     c.StableBorrowEnabled,
		UsageAsCollateralEnabled: c.UsageAsCollateralEnabled,
		YieldBoostEnabled:        c.YieldBoostEnabled,
	}
}

type strategyJSON struct {
	OptimalUtilization     string `json:"optimal_utilization"`
	BaseVariableBorrowRate string `json:"base_variable_borrow_rate"`
	VariableRateSlope1     string `json:"variable_rate_slope1"`
	VariableRateSlope2     string `json:"variable_rate_slope2"`
	StableRateSlope1       string `json:"stable_rate_slope1"`
	StableRateSlope2       string `json:"stable_rate_slope2"`
}

func (s strategyJSON) toStrategy() (*rates.KinkedStrategy, error) {
	fields := map[string]string{
		"optimal_utilization":       s.OptimalUtilization,
		"base_variable_borrow_rate": s.BaseVariableBorrowRate,
		"variable_rate_slope1":      s.VariableRateSlope1,
		"variable_rate_slope2":      s.VariableRateSlope2,
		"stable_rate_slope1":        s.StableRateSlope1,
		"stable_rate_slope2":        s.StableRateSlope2,
	}
	parsed := make(map[string]*uint256.Int, len(fields))
	for name, raw := range fields {
		v, err := uint256.FromDecimal(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", name, raw)
		}
		parsed[name] = v
	}

	return rates.NewKinkedStrategy(rates.Params{
		OptimalUtilization:     parsed["optimal_utilization"],
		BaseVariableBorrowRate: parsed["base_variable_borrow_rate"],
		VariableRateSlope1:     parsed["variable_rate_slope1"],
		VariableRateSlope2:     parsed["variable_rate_slope2"],
		StableRateSlope1:       parsed["stable_rate_slope1"],
		StableRateSlope2:       parsed["stable_rate_slope2"],
	})
}

type initReserveRequest struct {
	actionRequest
	Admin    string            `json:"admin"`
	Asset    string            `json:"asset"`
	Config   reserveConfigJSON `json:"config"`
	Strategy strategyJSON      `json:"strategy"`
}

func (s *Server) handleInitReserve(w http.ResponseWriter, r *http.Request) {
	var req initReserveRequest
	if !decode(w, r, &req) {
		return
	}
	act, admin, ok := s.adminFields(w, req.actionRequest, req.Admin)
	if !ok {
		return
	}
	strategy, err := req.Strategy.toStrategy()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd := core.InitReserveCommand{
		Action: act, Admin: admin, Asset: req.Asset,
		Config: req.Config.toConfig(), Strategy: strategy,
	}
	s.runAction(w, r, cmd.ActionID, func(e *core.PoolEngine) error { return e.InitReserve(cmd) })
}

type setConfigRequest struct {
	actionRequest
	Admin  string            `json:"admin"`
	Config reserveConfigJSON `json:"config"`
}

func (s *Server) handleSetReserveConfig(w http.ResponseWriter, r *http.Request) {
	var req setConfigRequest
	if !decode(w, r, &req) {
		return
	}
	act, admin, ok := s.adminFields(w, req.actionRequest, req.Admin)
	if !ok {
		return
	}

	cmd := core.SetReserveConfigCommand{
		Action: act, Admin: admin,
		Asset:  chi.URLParam(r, "asset"),
		Config: req.Config.toConfig(),
	}
	s.runAction(w, r, cmd.ActionID, func(e *core.PoolEngine) error { return e.SetReserveConfig(cmd) })
}

type setStatusRequest struct {
	actionRequest
	Admin  string `json:"admin"`
	Status string `json:"status"`
}

func (s *Server) handleSetReserveStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if !decode(w, r, &req) {
		return
	}
	act, admin, ok := s.adminFields(w, req.actionRequest, req.Admin)
	if !ok {
		return
	}

	var status reserve.Status
	switch req.Status {
	case "active":
		status = reserve.StatusActive
	case "frozen":
		status = reserve.StatusFrozen
	case "deactivated":
		status = reserve.StatusDeactivated
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", req.Status))
		return
	}

	cmd := core.SetReserveStatusCommand{
		Action: act, Admin: admin,
		Asset:  chi.URLParam(r, "asset"),
		Status: status,
	}
	s.runAction(w, r, cmd.ActionID, func(e *core.PoolEngine) error { return e.SetReserveStatus(cmd) })
}

type setStrategyRequest struct {
	actionRequest
	Admin    string       `json:"admin"`
	Strategy strategyJSON `json:"strategy"`
}

func (s *Server) handleSetReserveStrategy(w http.ResponseWriter, r *http.Request) {
	var req setStrategyRequest
	if !decode(w, r, &req) {
		return
	}
	act, admin, ok := s.adminFields(w, req.actionRequest, req.Admin)
	if !ok {
		return
	}
	strategy, err := req.Strategy.toStrategy()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd := core.SetReserveStrategyCommand{
		Action: act, Admin: admin,
		Asset:    chi.URLParam(r, "asset"),
		Strategy: strategy,
	}
	s.runAction(w, r, cmd.ActionID, func(e *core.PoolEngine) error { return e.SetReserveStrategy(cmd) })
}

type treasuryWithdrawRequest struct {
	actionRequest
	Admin  string `json:"admin"`
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleTreasuryWithdraw(w http.ResponseWriter, r *http.Request) {
	var req treasuryWithdrawRequest
	if !decode(w, r, &req) {
		return
	}
	act, admin, ok := s.adminFields(w, req.actionRequest, req.Admin)
	if !ok {
		return
	}
	to, err := uuid.Parse(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd := core.TreasuryWithdrawCommand{
		Action: act, Admin: admin, Asset: req.Asset, To: to, Amount: amount,
	}
	s.runAction(w, r, cmd.ActionID, func(e *core.PoolEngine) error { return e.TreasuryWithdraw(cmd) })
}

func (s *Server) handleTakeSnapshot(w http.ResponseWriter, r *http.Request) {
	seq, err := s.snapshots.TakeSnapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sequence": seq, "taken_at": time.Now().UTC()})
}

func (s *Server) handleRebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := s.rebuild(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

func (s *Server) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queryService.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) adminFields(w http.ResponseWriter, ar actionRequest, admin string) (core.Action, uuid.UUID, bool) {
	act, err := ar.action()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return core.Action{}, uuid.Nil, false
	}
	adminID, err := uuid.Parse(admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid admin")
		return core.Action{}, uuid.Nil, false
	}
	return act, adminID, true
}
