package core

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/google/uuid"

	"lendpool/internal/reserve"
)

// poolState holds every reserve plus per-user collateral elections. The
// engine mutates a clone per action and swaps it in only on success, so a
// failed action can never leave partial writes behind.
type poolState struct {
	reserves map[string]*reserve.Reserve
	// order fixes reserve iteration for digests and health computations.
	order []string

	// collateralFlags[user][asset] records whether the user's deposit in
	// asset counts toward their collateral. Absent means false.
	collateralFlags map[uuid.UUID]map[string]bool
}

func newPoolState() *poolState {
	return &poolState{
		reserves:        make(map[string]*reserve.Reserve),
		collateralFlags: make(map[uuid.UUID]map[string]bool),
	}
}

func (s *poolState) reserve(asset string) (*reserve.Reserve, bool) {
	r, ok := s.reserves[asset]
	return r, ok
}

// activeReserve resolves an asset to a reserve that accepts state-changing
// actions. Frozen reserves pass here; callers that must reject frozen
// reserves check separately.
func (s *poolState) activeReserve(asset string) (*reserve.Reserve, *Error) {
	r, ok := s.reserves[asset]
	if !ok || r.Status == reserve.StatusUninitialized {
		return nil, E(CodeReserveDoesNotExist, "reserve %s not listed", asset)
	}
	if r.Status == reserve.StatusDeactivated {
		return nil, E(CodeReserveNotActive, "reserve %s is deactivated", asset)
	}
	return r, nil
}

func (s *poolState) addReserve(r *reserve.Reserve) {
	s.reserves[r.Asset] = r
	s.order = append(s.order, r.Asset)
	sort.Strings(s.order)
}

func (s *poolState) collateralFlag(user uuid.UUID, asset string) bool {
	return s.collateralFlags[user][asset]
}

func (s *poolState) setCollateralFlag(user uuid.UUID, asset string, on bool) {
	flags := s.collateralFlags[user]
	if !on {
		if flags != nil {
			delete(flags, asset)
			if len(flags) == 0 {
				delete(s.collateralFlags, user)
			}
		}
		return
	}
	if flags == nil {
		flags = make(map[string]bool)
		s.collateralFlags[user] = flags
	}
	flags[asset] = true
}

func (s *poolState) Clone() *poolState {
	c := &poolState{
		reserves:        make(map[string]*reserve.Reserve, len(s.reserves)),
		order:           append([]string(nil), s.order...),
		collateralFlags: make(map[uuid.UUID]map[string]bool, len(s.collateralFlags)),
	}
	for asset, r := range s.reserves {
		c.reserves[asset] = r.Clone()
	}
	for user, flags := range s.collateralFlags {
		cf := make(map[string]bool, len(flags))
		for asset, on := range flags {
			cf[asset] = on
		}
		c.collateralFlags[user] = cf
	}
	return c
}

// digest fingerprints the reserves an action touched. Assets are sorted so
// the digest is stable regardless of mutation order within the action.
func (s *poolState) digest(assets []string) [32]byte {
	sorted := append([]string(nil), assets...)
	sort.Strings(sorted)

	h := sha256.New()
	var seen string
	for _, asset := range sorted {
		if asset == seen {
			continue
		}
		seen = asset
		r, ok := s.reserves[asset]
		if !ok {
			continue
		}
		h.Write([]byte(r.Asset))
		h.Write([]byte{byte(r.Status)})
		writeU256 := func(v interface{ Bytes32() [32]byte }) {
			b := v.Bytes32()
			h.Write(b[:])
		}
		writeU256(r.LiquidityIndex)
		writeU256(r.VariableBorrowIndex)
		writeU256(r.CurrentLiquidityRate)
		writeU256(r.CurrentVariableBorrowRate)
		writeU256(r.CurrentStableBorrowRate)

		var ts [8]byte
		binary.LittleEndian.PutUint64(ts[:], r.LastUpdateTimestamp)
		h.Write(ts[:])

		writeU256(r.AvailableLiquidity())
		writeU256(r.Liquidity.TotalScaled())
		writeU256(r.VariableDebt.TotalScaled())
		writeU256(r.StableDebt.AverageRate())
		writeU256(r.Underlying.TotalSupply())
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
