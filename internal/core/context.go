package core

import (
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"lendpool/internal/fixedmath"
	"lendpool/internal/oracle"
)

// Role names an administrative capability. Roles gate the configurator
// operations; regular pool actions are open to any user.
type Role string

const (
	RolePoolAdmin      Role = "pool_admin"
	RoleEmergencyAdmin Role = "emergency_admin"
	RoleRiskAdmin      Role = "risk_admin"
)

// RoleRegistry answers whether an account holds a role.
type RoleRegistry interface {
	HasRole(role Role, account uuid.UUID) bool
}

// MemoryRoleRegistry is an in-process RoleRegistry. Safe for concurrent use.
type MemoryRoleRegistry struct {
	mu    sync.RWMutex
	roles map[Role]map[uuid.UUID]struct{}
}

func NewMemoryRoleRegistry() *MemoryRoleRegistry {
	return &MemoryRoleRegistry{roles: make(map[Role]map[uuid.UUID]struct{})}
}

func (r *MemoryRoleRegistry) Grant(role Role, account uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roles[role] == nil {
		r.roles[role] = make(map[uuid.UUID]struct{})
	}
	r.roles[role][account] = struct{}{}
}

func (r *MemoryRoleRegistry) Revoke(role Role, account uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roles[role], account)
}

func (r *MemoryRoleRegistry) HasRole(role Role, account uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.roles[role][account]
	return ok
}

// ProtocolParams are the pool-wide knobs shared by every reserve.
type ProtocolParams struct {
	// FlashLoanPremiumBps is the flash loan fee in basis points of the
	// borrowed amount.
	FlashLoanPremiumBps uint64

	// CloseFactorBps bounds how much of a position's debt one liquidation
	// call may repay when the health factor is in the soft band.
	CloseFactorBps uint64

	// FullLiquidationThreshold is the health factor (ray) below which the
	// close factor no longer applies and the entire debt may be repaid.
	FullLiquidationThreshold *uint256.Int

	// MaxStableBorrowSizeBps caps a single stable borrow as a share of the
	// reserve's available liquidity.
	MaxStableBorrowSizeBps uint64

	// RebalanceUsageThresholdBps is the minimum utilization at which a
	// stable position may be rebalanced onto the current rate.
	RebalanceUsageThresholdBps uint64

	// MaxReserves bounds the number of listed assets.
	MaxReserves int
}

// DefaultProtocolParams mirrors the production deployment values.
func DefaultProtocolParams() ProtocolParams {
	// HF 0.95 in ray.
	full := new(uint256.Int).Mul(uint256.NewInt(95), new(uint256.Int).Div(fixedmath.Ray, uint256.NewInt(100)))
	return ProtocolParams{
		FlashLoanPremiumBps:        9,
		CloseFactorBps:             5000,
		FullLiquidationThreshold:   full,
		MaxStableBorrowSizeBps:     2500,
		RebalanceUsageThresholdBps: 9500,
		MaxReserves:                128,
	}
}

// ProtocolContext bundles the external collaborators and parameters the
// engine consults while applying actions.
type ProtocolContext struct {
	PriceOracle oracle.PriceOracle
	RateOracle  oracle.LendingRateOracle
	Roles       RoleRegistry
	Params      ProtocolParams
}
