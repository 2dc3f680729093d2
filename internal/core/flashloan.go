package core

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"lendpool/internal/event"
	"lendpool/internal/fixedmath"
	"lendpool/internal/ledger"
	"lendpool/internal/reserve"
)

// FlashLoanReceiver is the executor callback. It runs after every requested
// amount has been released and must acknowledge with true; any other outcome
// aborts the whole loan.
type FlashLoanReceiver interface {
	ExecuteOperation(assets []string, amounts, premiums []*uint256.Int, params []byte) bool
}

type FlashLoanCommand struct {
	Action
	ReceiverID uuid.UUID
	Receiver   FlashLoanReceiver
	Assets     []string
	Amounts    []*uint256.Int
	Params     []byte
}

// FlashLoan lends multiple assets for the duration of one callback. Either
// every leg completes — funds out, callback acknowledged, funds plus premium
// back — or the whole action is discarded with no state change.
func (e *PoolEngine) FlashLoan(cmd FlashLoanCommand) error {
	return errOrNil(e.process("FlashLoan", cmd.ActionID.String(), func(st *poolState) (*applied, *Error) {
		// Validation order is part of the contract: shape first, then
		// addresses, then amounts, then reserve existence, then limits.
		if len(cmd.Assets) == 0 {
			return nil, E(CodeEmptyArray, "no assets requested")
		}
		if len(cmd.Assets) != len(cmd.Amounts) {
			return nil, E(CodeInconsistentArraySize, "%d assets, %d amounts",
				len(cmd.Assets), len(cmd.Amounts))
		}
		if cmd.Receiver == nil || cmd.ReceiverID == uuid.Nil {
			return nil, E(CodeInvalidAddress, "missing flash loan receiver")
		}
		for i, amount := range cmd.Amounts {
			if amount == nil || amount.IsZero() {
				return nil, E(CodeInvalidAmount, "zero amount for %s", cmd.Assets[i])
			}
		}

		reserves := make([]*reserve.Reserve, len(cmd.Assets))
		for i, asset := range cmd.Assets {
			r, aerr := st.activeReserve(asset)
			if aerr != nil {
				return nil, aerr
			}
			reserves[i] = r
		}
		for i, r := range reserves {
			if aerr := e.checkFlashLoanLimit(r, cmd.Amounts[i]); aerr != nil {
				return nil, aerr
			}
		}

		// Release phase: accrue, check liquidity, push funds out.
		premiums := make([]*uint256.Int, len(cmd.Assets))
		premiumBps := uint256.NewInt(e.ctx.Params.FlashLoanPremiumBps)
		for i, r := range reserves {
			if err := r.Accrue(cmd.Timestamp); err != nil {
				return nil, asCoded(err)
			}
			if aerr := checkAvailableLiquidity(r, cmd.Amounts[i]); aerr != nil {
				return nil, aerr
			}
			premium, err := fixedmath.PercentMul(cmd.Amounts[i], premiumBps)
			if err != nil {
				return nil, asCoded(err)
			}
			premiums[i] = premium
			if err := r.Underlying.Burn(r.Holder(), cmd.Amounts[i]); err != nil {
				return nil, asCoded(err)
			}
		}

		// The executor's acknowledgement is checked before any pull-back:
		// a false return aborts with nothing repaid and nothing kept.
		if !cmd.Receiver.ExecuteOperation(cmd.Assets, cmd.Amounts, premiums, cmd.Params) {
			if e.metrics != nil {
				e.metrics.FlashLoanReverts.WithLabelValues("executor_rejected").Inc()
			}
			return nil, E(CodeInvalidFlashLoanExecutorReturn, "executor did not acknowledge")
		}

		// Pull-back phase: amount plus premium returns; the premium is
		// credited wholly to the treasury as receipt tokens.
		legs := make([]ledger.Leg, 0, len(cmd.Assets)*3)
		events := make([]event.Event, 0, len(cmd.Assets)*2)
		receiverHolder := ledger.ExternalHolder(cmd.ReceiverID)
		for i, r := range reserves {
			repay := new(uint256.Int).Add(cmd.Amounts[i], premiums[i])
			if err := r.Underlying.Mint(r.Holder(), repay); err != nil {
				return nil, asCoded(err)
			}
			if !premiums[i].IsZero() {
				if _, err := r.Liquidity.Mint(ledger.TreasuryHolder(), premiums[i], r.LiquidityIndex); err != nil {
					// A premium too small to register at the current index
					// is forfeited, same as treasury accrual dust.
					if err != ledger.ErrInvalidMintAmount {
						return nil, asCoded(err)
					}
				}
			}
			if aerr := e.updateReserveRates(r, cmd.Timestamp); aerr != nil {
				return nil, aerr
			}

			legs = append(legs,
				ledger.Leg{
					Debit:  receiverHolder,
					Credit: r.Holder(),
					Asset:  r.Asset,
					Amount: cmd.Amounts[i],
					Type:   ledger.JournalTypeFlashLoanOut,
				},
				ledger.Leg{
					Debit:  r.Holder(),
					Credit: receiverHolder,
					Asset:  r.Asset,
					Amount: cmd.Amounts[i],
					Type:   ledger.JournalTypeFlashLoanReturn,
				},
				ledger.Leg{
					Debit:  ledger.TreasuryHolder(),
					Credit: receiverHolder,
					Asset:  r.Asset,
					Amount: premiums[i],
					Type:   ledger.JournalTypeFlashLoanPremium,
				},
			)
			events = append(events, &event.FlashLoan{
				ActionID:    cmd.ActionID,
				Receiver:    cmd.ReceiverID,
				AssetSymbol: r.Asset,
				Amount:      cmd.Amounts[i].Dec(),
				Premium:     premiums[i].Dec(),
				Timestamp:   int64(cmd.Timestamp),
			})
			events = append(events, e.reserveDataEvent(r, cmd.Timestamp))

			if e.metrics != nil {
				e.metrics.FlashLoansExecuted.WithLabelValues(r.Asset).Inc()
				e.metrics.FlashLoanPremiums.WithLabelValues(r.Asset).Add(u256ToFloat(premiums[i]))
			}
		}

		batch := e.journalGen.NewBatch(cmd.ActionID.String(), int64(cmd.Timestamp), legs...)

		return &applied{
			batch:     batch,
			events:    events,
			assets:    append([]string(nil), cmd.Assets...),
			timestamp: cmd.Timestamp,
		}, nil
	}))
}
