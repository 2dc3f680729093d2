package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"lendpool/internal/core"
	"lendpool/internal/event"
	"lendpool/internal/observability"
	"lendpool/internal/query"
)

// Server is the HTTP/JSON API. Pool actions and live views go through the
// engine runner; historical queries read Postgres directly.
type Server struct {
	httpServer    *http.Server
	addr          string
	runner        *EngineRunner
	queryService  *query.Service
	snapshots     SnapshotTrigger
	rebuild       func(context.Context) error
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// SnapshotTrigger is implemented by the orchestrator: it captures the engine
// state on the engine goroutine and persists it.
type SnapshotTrigger interface {
	TakeSnapshot(ctx context.Context) (int64, error)
}

type Deps struct {
	Runner        *EngineRunner
	QueryService  *query.Service
	Snapshots     SnapshotTrigger
	Rebuild       func(context.Context) error
	HealthChecker *observability.HealthChecker
}

func New(addr string, deps *Deps) *Server {
	s := &Server{
		addr:          addr,
		runner:        deps.Runner,
		queryService:  deps.QueryService,
		snapshots:     deps.Snapshots,
		rebuild:       deps.Rebuild,
		healthChecker: deps.HealthChecker,
		logger:        observability.NewLogger("server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthChecker.LivenessHandler)
	r.Get("/readyz", s.healthChecker.ReadinessHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/pool", func(r chi.Router) {
			r.Post("/deposit", s.handleDeposit)
			r.Post("/withdraw", s.handleWithdraw)
			r.Post("/borrow", s.handleBorrow)
			r.Post("/repay", s.handleRepay)
			r.Post("/swap-rate-mode", s.handleSwapRateMode)
			r.Post("/rebalance", s.handleRebalance)
			r.Post("/collateral", s.handleSetCollateral)
			r.Post("/liquidation-call", s.handleLiquidationCall)
		})

		r.Route("/reserves", func(r chi.Router) {
			r.Get("/", s.handleListReserves)
			r.Get("/{asset}", s.handleGetReserve)
			r.Get("/{asset}/rate-history", s.handleRateHistory)
		})

		r.Route("/users/{user}", func(r chi.Router) {
			r.Get("/account", s.handleGetAccount)
			r.Get("/reserves/{asset}", s.handleGetUserReserve)
			r.Get("/journal", s.handleUserJournal)
		})

		r.Get("/accounts/{path}/balances", s.handleAccountBalances)
		r.Get("/events", s.handleEvents)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/reserves", s.handleInitReserve)
			r.Put("/reserves/{asset}/config", s.handleSetReserveConfig)
			r.Put("/reserves/{asset}/status", s.handleSetReserveStatus)
			r.Put("/reserves/{asset}/strategy", s.handleSetReserveStrategy)
			r.Post("/treasury/withdraw", s.handleTreasuryWithdraw)
			r.Post("/snapshot", s.handleTakeSnapshot)
			r.Post("/projections/rebuild", s.handleRebuildProjections)
			r.Get("/integrity", s.handleVerifyIntegrity)
		})
	})

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Handler exposes the router, for serving through a custom listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- pool action handlers ---

type actionRequest struct {
	ActionID string `json:"action_id,omitempty"`
}

// action builds the versioned command header. Clients may supply action_id
// for idempotent retries; the timestamp is stamped at the edge so the engine
// never reads the wall clock.
func (a actionRequest) action() (core.Action, error) {
	act := core.Action{
		ActionID:  uuid.New(),
		Timestamp: uint64(time.Now().Unix()),
	}
	if a.ActionID != "" {
		id, err := uuid.Parse(a.ActionID)
		if err != nil {
			return core.Action{}, fmt.Errorf("invalid action_id: %w", err)
		}
		act.ActionID = id
	}
	return act, nil
}

type depositRequest struct {
	actionRequest
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decode(w, r, &req) {
		return
	}
	act, user, amount, ok := s.commonFields(w, req.actionRequest, req.User, req.Amount)
	if !ok {
		return
	}

	cmd := core.DepositCommand{Action: act, User: user, Asset: req.Asset, Amount: amount}
	s.runAction(w, r, cmd.ActionID, func(e *core.PoolEngine) error { return e.Deposit(cmd) })
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decode(w, r, &req) {
		return
	}
	act, user, amount, ok := s.commonFields(w, req.actionRequest, req.User, req.Amount)
	if !ok {
		return
	}

	cmd := core.WithdrawCommand{Action: act, User: user, Asset: req.Asset, Amount: amount}
	s.runAction(w, r, cmd.ActionID, func(e *core.PoolEngine) error { return e.Withdraw(cmd) })
}

type borrowRequest struct {
	actionRequest
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Mode   string `json:"rate_mode"`
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if !decode(w, r, &req) {
		return
	}
	act, user, amount, ok := s.commonFields(w, req.actionRequest, req.User, req.Amount)
	if !ok {
		return
	}
	mode, err := parseRateMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd := core.BorrowCommand{Action: act, User: user, Asset: req.Asset, Amount: amount, Mode: mode}
	s.runAction(w, r, cmd.ActionID, func(e *core.PoolEngine) error { return e.Borrow(cmd) })
}

type repayRequest struct {
	actionRequest
	Payer      string `json:"payer"`
	OnBehalfOf string `json:"on_behalf_of,omitempty"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	Mode       string `json:"rate_mode"`
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if !decode(w, r, &req) {
		return
	}
	act, payer, amount, ok := s.commonFields(w, req.actionRequest, req.Payer, req.Amount)
	if !ok {
		return
	}
	mode, err := parseRateMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	onBehalfOf := payer
	if req.OnBehalfOf != "" {
		onBehalfOf, err = uuid.Parse(req.OnBehalfOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid on_behalf_of")
			return
		}
	}

	cmd := core.RepayCommand{
		Action: act, Payer: payer, OnBehalfOf: onBehalfOf,
		Asset: req.Asset, Amount: amount, Mode: mode,
	}
	s.runAction(w, r, cmd.ActionID, func(e *core.PoolEngine) error { return e.Repay(cmd) })
}

type swapRateModeRequest struct {
	actionRequest
	User     string `json:"user"`
	Asset    string `json:"asset"`
	FromMode string `json:"from_mode"`
}

func (s *Server) handleSwapRateMode(w http.ResponseWriter, r *http.Request) {
	var req swapRateModeRequest
	if !decode(w, r, &req) {
		return
	}
	act, err := req.action()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := uuid.Parse(req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user")
		return
	}
	mode, err := parseRateMode(req.FromMode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd := core.SwapRateModeCommand{Action: act, User: user, Asset: req.Asset, FromMode: mode}
	s.runAction(w, r, cmd.ActionID, func(e *core.PoolEngine) error { return e.SwapRateMode(cmd) })
}

type rebalanceRequest struct {
	actionRequest
	Caller string `json:"caller"`
	User   string `json:"user"`
	Asset  string `json:"asset"`
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	var req rebalanceRequest
	if !decode(w, r, &req) {
		return
	}
	act, err := req.action()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := uuid.Parse(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller")
		return
	}
	user, err := uuid.Parse(req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user")
		return
	}

	cmd := core.RebalanceCommand{Action: act, Caller: caller, User: user, Asset: req.Asset}
	s.runAction(w, r, cmd.ActionID, func(e *core.PoolEngine) error { return e.RebalanceStableBorrowRate(cmd) })
}

type setCollateralRequest struct {
	actionRequest
	User            string `json:"user"`
	Asset           string `json:"asset"`
	UseAsCollateral bool   `json:"use_as_collateral"`
}

func (s *Server) handleSetCollateral(w http.ResponseWriter, r *http.Request) {
	var req setCollateralRequest
	if !decode(w, r, &req) {
		return
	}
	act, err := req.action()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := uuid.Parse(req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user")
		return
	}

	cmd := core.SetCollateralCommand{
		Action: act, User: user, Asset: req.Asset, UseAsCollateral: req.UseAsCollateral,
	}
	s.runAction(w, r, cmd.ActionID, func(e *core.PoolEngine) error { return e.SetUserUseReserveAsCollateral(cmd) })
}

type liquidationCallRequest struct {
	actionRequest
	Liquidator      string `json:"liquidator"`
	User            string `json:"user"`
	CollateralAsset string `json:"collateral_asset"`
	DebtAsset       string `json:"debt_asset"`
	DebtToCover     string `json:"debt_to_cover"`
}

func (s *Server) handleLiquidationCall(w http.ResponseWriter, r *http.Request) {
	var req liquidationCallRequest
	if !decode(w, r, &req) {
		return
	}
	act, err := req.action()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	liquidator, err := uuid.Parse(req.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid liquidator")
		return
	}
	user, err := uuid.Parse(req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user")
		return
	}
	debtToCover, err := parseAmount(req.DebtToCover)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd := core.LiquidationCommand{
		Action: act, Liquidator: liquidator, User: user,
		CollateralAsset: req.CollateralAsset, DebtAsset: req.DebtAsset,
		DebtToCover: debtToCover,
	}
	s.runAction(w, r, cmd.ActionID, func(e *core.PoolEngine) error { return e.LiquidationCall(cmd) })
}

// --- view handlers ---

func (s *Server) handleListReserves(w http.ResponseWriter, r *http.Request) {
	now := uint64(time.Now().Unix())
	var views []*core.ReserveView
	err := s.runner.Do(r.Context(), func(e *core.PoolEngine) error {
		for _, asset := range e.ListReserves() {
			v, err := e.GetReserveView(asset, now)
			if err != nil {
				return err
			}
			views = append(views, v)
		}
		return nil
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reserves": views})
}

func (s *Server) handleGetReserve(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	now := uint64(time.Now().Unix())
	var view *core.ReserveView
	err := s.runner.Do(r.Context(), func(e *core.PoolEngine) error {
		v, err := e.GetReserveView(asset, now)
		view = v
		return err
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetUserReserve(w http.ResponseWriter, r *http.Request) {
	user, err := uuid.Parse(chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user")
		return
	}
	asset := chi.URLParam(r, "asset")
	now := uint64(time.Now().Unix())
	var view *core.UserReserveView
	err = s.runner.Do(r.Context(), func(e *core.PoolEngine) error {
		v, err := e.GetUserReserveView(user, asset, now)
		view = v
		return err
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	user, err := uuid.Parse(chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user")
		return
	}
	now := uint64(time.Now().Unix())
	var view *core.AccountView
	err = s.runner.Do(r.Context(), func(e *core.PoolEngine) error {
		v, err := e.GetUserAccountData(user, now)
		view = v
		return err
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRateHistory(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	limit := queryLimit(r, 100, 1000)
	entries, err := s.queryService.GetRateHistory(r.Context(), asset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"asset": asset, "entries": entries})
}

func (s *Server) handleUserJournal(w http.ResponseWriter, r *http.Request) {
	user, err := uuid.Parse(chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user")
		return
	}
	limit := queryLimit(r, 100, 500)
	afterSeq := queryCursor(r, "after_sequence")

	entries, err := s.queryService.GetUserJournalHistory(r.Context(), user, limit, afterSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"journals": entries})
}

func (s *Server) handleAccountBalances(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")
	entries, err := s.queryService.GetAccountBalances(r.Context(), path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"balances": entries})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100, 500)
	afterSeq := queryCursor(r, "after_sequence")
	var asset *string
	if a := r.URL.Query().Get("asset"); a != "" {
		asset = &a
	}

	entries, err := s.queryService.GetEventHistory(r.Context(), asset, limit, afterSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": entries})
}

// --- shared helpers ---

func (s *Server) commonFields(w http.ResponseWriter, ar actionRequest, user, amount string) (core.Action, uuid.UUID, *uint256.Int, bool) {
	act, err := ar.action()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return core.Action{}, uuid.Nil, nil, false
	}
	userID, err := uuid.Parse(user)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user")
		return core.Action{}, uuid.Nil, nil, false
	}
	amt, err := parseAmount(amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return core.Action{}, uuid.Nil, nil, false
	}
	return act, userID, amt, true
}

func (s *Server) runAction(w http.ResponseWriter, r *http.Request, actionID uuid.UUID, fn func(*core.PoolEngine) error) {
	var seq int64
	err := s.runner.Do(r.Context(), func(e *core.PoolEngine) error {
		if err := fn(e); err != nil {
			return err
		}
		seq = e.GetSequence()
		return nil
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"action_id": actionID.String(),
		"sequence":  seq,
	})
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	code := core.CodeOf(err)
	status := http.StatusUnprocessableEntity
	switch code {
	case core.CodeReserveDoesNotExist:
		status = http.StatusNotFound
	case core.CodeUnauthorized:
		status = http.StatusForbidden
	case core.CodeEmptyArray, core.CodeInconsistentArraySize,
		core.CodeInvalidAddress, core.CodeInvalidAmount,
		core.CodeInvalidRateMode, core.CodeInvalidConfiguration:
		status = http.StatusBadRequest
	case core.CodeArithmeticError, core.CodeDivisionByZero, core.CodeInternal:
		status = http.StatusInternalServerError
	case "":
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  string(code),
	})
}

// parseAmount accepts a positive decimal string, or "max" for whole-balance
// operations (withdraw all, repay all, drain treasury).
func parseAmount(s string) (*uint256.Int, error) {
	if s == "max" {
		return core.EntireBalance, nil
	}
	amount, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}

func parseRateMode(s string) (event.RateMode, error) {
	switch s {
	case "stable":
		return event.RateModeStable, nil
	case "variable":
		return event.RateModeVariable, nil
	default:
		return event.RateModeNone, fmt.Errorf("invalid rate_mode %q", s)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

func queryCursor(r *http.Request, name string) *int64 {
	if raw := r.URL.Query().Get(name); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			return &n
		}
	}
	return nil
}
