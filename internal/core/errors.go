package core

import (
	"errors"
	"fmt"

	"lendpool/internal/fixedmath"
	"lendpool/internal/ledger"
)

// Code is a stable error identifier integrators can branch on. Codes never
// change meaning once released.
type Code string

const (
	// Input validation
	CodeEmptyArray            Code = "EMPTY_ARRAY"
	CodeInconsistentArraySize Code = "INCONSISTENT_ARRAY_SIZE"
	CodeInvalidAddress        Code = "INVALID_ADDRESS"
	CodeInvalidAmount         Code = "INVALID_AMOUNT"
	CodeInvalidConfiguration  Code = "INVALID_CONFIGURATION"
	CodeInvalidRateMode       Code = "INVALID_RATE_MODE"

	// State preconditions
	CodeReserveDoesNotExist       Code = "RESERVE_DOES_NOT_EXIST"
	CodeReserveAlreadyInitialized Code = "RESERVE_ALREADY_INITIALIZED"
	CodeReserveNotActive          Code = "RESERVE_NOT_ACTIVE"
	CodeReserveFrozen             Code = "RESERVE_FROZEN"
	CodeMaxReservesReached        Code = "MAX_RESERVES_REACHED"
	CodeReserveNotEmpty           Code = "RESERVE_NOT_EMPTY"
	CodeNoDebtOfSelectedType      Code = "NO_DEBT_OF_SELECTED_TYPE"
	CodeCollateralDisabled        Code = "COLLATERAL_DISABLED"

	// Economic limits
	CodeSupplyCapExceeded             Code = "SUPPLY_CAP_EXCEEDED"
	CodeBorrowCapExceeded             Code = "BORROW_CAP_EXCEEDED"
	CodeFlashLoanAmountOverLimit      Code = "FLASHLOAN_AMOUNT_OVER_LIMIT"
	CodeInsufficientLiquidity         Code = "INSUFFICIENT_LIQUIDITY"
	CodeInsufficientBalance           Code = "INSUFFICIENT_BALANCE"
	CodeInsufficientDebt              Code = "INSUFFICIENT_DEBT"
	CodeBorrowingDisabled             Code = "BORROWING_DISABLED"
	CodeStableBorrowingDisabled       Code = "STABLE_BORROWING_DISABLED"
	CodeExceedsStableBorrowLimit      Code = "EXCEEDS_STABLE_BORROW_LIMIT"
	CodeCollateralCannotCoverBorrow   Code = "COLLATERAL_CANNOT_COVER_NEW_BORROW"
	CodeHealthFactorBelowThreshold    Code = "HEALTH_FACTOR_BELOW_THRESHOLD"
	CodeHealthFactorNotBelowThreshold Code = "HEALTH_FACTOR_NOT_BELOW_THRESHOLD"
	CodeRebalanceConditionsNotMet     Code = "REBALANCE_CONDITIONS_NOT_MET"

	// Flash loan execution
	CodeInvalidFlashLoanExecutorReturn Code = "INVALID_FLASHLOAN_EXECUTOR_RETURN"

	// Authorization
	CodeUnauthorized Code = "UNAUTHORIZED"

	// Arithmetic
	CodeArithmeticError Code = "ARITHMETIC_ERROR"
	CodeDivisionByZero  Code = "DIVISION_BY_ZERO"

	// External collaborators
	CodeOracleFailure Code = "ORACLE_FAILURE"

	CodeInternal Code = "INTERNAL"
)

// Error carries a stable code plus context. All pool operations return
// *Error on failure so callers can branch on cause.
type Error struct {
	Code Code
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		if e.msg != "" {
			return fmt.Sprintf("%s: %s: %v", e.Code, e.msg, e.err)
		}
		return fmt.Sprintf("%s: %v", e.Code, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.msg)
}

func (e *Error) Unwrap() error {
	return e.err
}

// E builds a coded error with a formatted message.
func E(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(format, args...)}
}

// WrapErr attaches a code to an underlying error.
func WrapErr(code Code, err error) *Error {
	return &Error{Code: code, err: err}
}

// CodeOf extracts the code from an error chain, defaulting to INTERNAL.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// asCoded maps lower-layer sentinel errors onto stable codes. Arithmetic
// failures surface from fixedmath; balance failures from the ledgers.
func asCoded(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, fixedmath.ErrOverflow):
		return WrapErr(CodeArithmeticError, err)
	case errors.Is(err, fixedmath.ErrDivisionByZero):
		return WrapErr(CodeDivisionByZero, err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return WrapErr(CodeInsufficientBalance, err)
	case errors.Is(err, ledger.ErrInsufficientDebt),
		errors.Is(err, ledger.ErrInsufficientStableDebt):
		return WrapErr(CodeInsufficientDebt, err)
	case errors.Is(err, ledger.ErrZeroAmount), errors.Is(err, ledger.ErrInvalidMintAmount):
		return WrapErr(CodeInvalidAmount, err)
	case errors.Is(err, ledger.ErrZeroHolder):
		return WrapErr(CodeInvalidAddress, err)
	}
	return WrapErr(CodeInternal, err)
}
