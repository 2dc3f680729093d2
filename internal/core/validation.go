package core

import (
	"github.com/holiman/uint256"

	"lendpool/internal/fixedmath"
	"lendpool/internal/reserve"
)

// usdCapScale lifts a whole-unit USD cap onto the oracle's 8-decimal scale.
var usdCapScale = uint256.NewInt(100_000_000)

func validAmount(amount *uint256.Int) *Error {
	if amount == nil || amount.IsZero() {
		return E(CodeInvalidAmount, "amount must be positive")
	}
	return nil
}

// assetPrice resolves the oracle price or fails the action. A cap or health
// check must never run on a stale or missing price.
func (e *PoolEngine) assetPrice(asset string) (*uint256.Int, *Error) {
	if e.metrics != nil {
		e.metrics.OracleLookups.WithLabelValues(asset).Inc()
	}
	price, ok := e.ctx.PriceOracle.GetAssetPrice(asset)
	if !ok || price.IsZero() {
		if e.metrics != nil {
			e.metrics.OracleFailures.WithLabelValues(asset).Inc()
		}
		return nil, E(CodeOracleFailure, "no usable price for %s", asset)
	}
	return price, nil
}

// checkSupplyCap enforces currentSuppliedUSD + amountUSD <= supplyCapUSD.
// A cap of zero is the explicit "uncapped" sentinel. The cap drifts with the
// oracle price; that is the intended policy.
func (e *PoolEngine) checkSupplyCap(r *reserve.Reserve, amount *uint256.Int) *Error {
	if r.Config.SupplyCapUSD == 0 {
		return nil
	}
	price, aerr := e.assetPrice(r.Asset)
	if aerr != nil {
		return aerr
	}
	supplied, err := r.Liquidity.TotalSupply(r.LiquidityIndex)
	if err != nil {
		return asCoded(err)
	}
	suppliedUSD, err := usdValue(supplied, price, r.Config.Decimals)
	if err != nil {
		return asCoded(err)
	}
	amountUSD, err := usdValue(amount, price, r.Config.Decimals)
	if err != nil {
		return asCoded(err)
	}
	cap := new(uint256.Int).Mul(uint256.NewInt(r.Config.SupplyCapUSD), usdCapScale)
	total := new(uint256.Int).Add(suppliedUSD, amountUSD)
	if total.Gt(cap) {
		return E(CodeSupplyCapExceeded, "supply %s + %s exceeds cap %d USD on %s",
			suppliedUSD.Dec(), amountUSD.Dec(), r.Config.SupplyCapUSD, r.Asset)
	}
	return nil
}

// checkBorrowCap enforces the same pattern over total stable+variable debt.
func (e *PoolEngine) checkBorrowCap(r *reserve.Reserve, amount *uint256.Int, now uint64) *Error {
	if r.Config.BorrowCapUSD == 0 {
		return nil
	}
	price, aerr := e.assetPrice(r.Asset)
	if aerr != nil {
		return aerr
	}
	variable, err := r.TotalVariableDebt()
	if err != nil {
		return asCoded(err)
	}
	stable, err := r.TotalStableDebt(now)
	if err != nil {
		return asCoded(err)
	}
	debt := new(uint256.Int).Add(variable, stable)
	debtUSD, err := usdValue(debt, price, r.Config.Decimals)
	if err != nil {
		return asCoded(err)
	}
	amountUSD, err := usdValue(amount, price, r.Config.Decimals)
	if err != nil {
		return asCoded(err)
	}
	cap := new(uint256.Int).Mul(uint256.NewInt(r.Config.BorrowCapUSD), usdCapScale)
	total := new(uint256.Int).Add(debtUSD, amountUSD)
	if total.Gt(cap) {
		return E(CodeBorrowCapExceeded, "debt %s + %s exceeds cap %d USD on %s",
			debtUSD.Dec(), amountUSD.Dec(), r.Config.BorrowCapUSD, r.Asset)
	}
	return nil
}

// checkFlashLoanLimit enforces the per-call USD limit on one flash-loan leg.
func (e *PoolEngine) checkFlashLoanLimit(r *reserve.Reserve, amount *uint256.Int) *Error {
	if r.Config.FlashLoanLimitUSD == 0 {
		return nil
	}
	price, aerr := e.assetPrice(r.Asset)
	if aerr != nil {
		return aerr
	}
	amountUSD, err := usdValue(amount, price, r.Config.Decimals)
	if err != nil {
		return asCoded(err)
	}
	limit := new(uint256.Int).Mul(uint256.NewInt(r.Config.FlashLoanLimitUSD), usdCapScale)
	if amountUSD.Gt(limit) {
		return E(CodeFlashLoanAmountOverLimit, "flash loan of %s USD exceeds limit %d USD on %s",
			amountUSD.Dec(), r.Config.FlashLoanLimitUSD, r.Asset)
	}
	return nil
}

// checkAvailableLiquidity rejects draws larger than the reserve's on-hand
// funds.
func checkAvailableLiquidity(r *reserve.Reserve, amount *uint256.Int) *Error {
	if amount.Gt(r.AvailableLiquidity()) {
		return E(CodeInsufficientLiquidity, "reserve %s holds %s, requested %s",
			r.Asset, r.AvailableLiquidity().Dec(), amount.Dec())
	}
	return nil
}

// checkDepositableReserve gates supply-side actions: active only.
func checkDepositableReserve(r *reserve.Reserve) *Error {
	if r.Status == reserve.StatusFrozen {
		return E(CodeReserveFrozen, "reserve %s is frozen", r.Asset)
	}
	return nil
}

// checkBorrowableReserve gates debt-increasing actions.
func checkBorrowableReserve(r *reserve.Reserve) *Error {
	if r.Status == reserve.StatusFrozen {
		return E(CodeReserveFrozen, "reserve %s is frozen", r.Asset)
	}
	if !r.Config.BorrowingEnabled {
		return E(CodeBorrowingDisabled, "borrowing disabled on %s", r.Asset)
	}
	return nil
}

// checkStableBorrow gates stable-mode specifics: the flag plus the size limit
// relative to available liquidity.
func (e *PoolEngine) checkStableBorrow(r *reserve.Reserve, amount *uint256.Int) *Error {
	if !r.Config.StableBorrowEnabled {
		return E(CodeStableBorrowingDisabled, "stable borrowing disabled on %s", r.Asset)
	}
	maxSize, err := fixedmath.PercentMul(r.AvailableLiquidity(), uint256.NewInt(e.ctx.Params.MaxStableBorrowSizeBps))
	if err != nil {
		return asCoded(err)
	}
	if amount.Gt(maxSize) {
		return E(CodeExceedsStableBorrowLimit, "stable borrow %s exceeds %d bps of available liquidity on %s",
			amount.Dec(), e.ctx.Params.MaxStableBorrowSizeBps, r.Asset)
	}
	return nil
}
