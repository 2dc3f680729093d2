package ledger

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"lendpool/internal/fixedmath"
)

func rayOf(dec string) *uint256.Int {
	return uint256.MustFromDecimal(dec)
}

func TestScaledLedgerMintAtUnityIndex(t *testing.T) {
	l := NewScaledLedger[Holder]()
	alice := UserHolder(uuid.New())

	scaled, err := l.Mint(alice, uint256.NewInt(1_000_000), fixedmath.Ray)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !scaled.Eq(uint256.NewInt(1_000_000)) {
		t.Errorf("scaled amount at index 1 = %s, want 1000000", scaled.Dec())
	}
	bal, err := l.BalanceOf(alice, fixedmath.Ray)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !bal.Eq(uint256.NewInt(1_000_000)) {
		t.Errorf("balance = %s, want 1000000", bal.Dec())
	}
}

func TestScaledLedgerAccruesThroughIndex(t *testing.T) {
	l := NewScaledLedger[Holder]()
	alice := UserHolder(uuid.New())

	if _, err := l.Mint(alice, uint256.NewInt(1_000_000), fixedmath.Ray); err != nil {
		t.Fatalf("mint: %v", err)
	}
	// index grows 10%: the same scaled balance reads 10% higher
	grown := rayOf("1100000000000000000000000000")
	bal, err := l.BalanceOf(alice, grown)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !bal.Eq(uint256.NewInt(1_100_000)) {
		t.Errorf("balance at grown index = %s, want 1100000", bal.Dec())
	}
	supply, err := l.TotalSupply(grown)
	if err != nil {
		t.Fatalf("total supply: %v", err)
	}
	if !supply.Eq(uint256.NewInt(1_100_000)) {
		t.Errorf("total supply at grown index = %s, want 1100000", supply.Dec())
	}
}

func TestScaledLedgerMintAtGrownIndex(t *testing.T) {
	l := NewScaledLedger[Holder]()
	alice := UserHolder(uuid.New())

	// depositing 1.1M at index 1.1 records 1M scaled: late depositors do
	// not capture interest accrued before them
	grown := rayOf("1100000000000000000000000000")
	scaled, err := l.Mint(alice, uint256.NewInt(1_100_000), grown)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !scaled.Eq(uint256.NewInt(1_000_000)) {
		t.Errorf("scaled at index 1.1 = %s, want 1000000", scaled.Dec())
	}
}

func TestScaledLedgerBurn(t *testing.T) {
	l := NewScaledLedger[Holder]()
	alice := UserHolder(uuid.New())

	if _, err := l.Mint(alice, uint256.NewInt(1_000_000), fixedmath.Ray); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := l.Burn(alice, uint256.NewInt(400_000), fixedmath.Ray); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := l.ScaledBalanceOf(alice); !got.Eq(uint256.NewInt(600_000)) {
		t.Errorf("scaled balance after burn = %s, want 600000", got.Dec())
	}
	if _, err := l.Burn(alice, uint256.NewInt(600_001), fixedmath.Ray); !errors.Is(err, ErrInsufficientDebt) {
		t.Errorf("over-burn: got %v, want ErrInsufficientDebt", err)
	}
}

func TestScaledLedgerBurnAll(t *testing.T) {
	l := NewScaledLedger[Holder]()
	alice := UserHolder(uuid.New())

	if _, err := l.Mint(alice, uint256.NewInt(1_000_000), fixedmath.Ray); err != nil {
		t.Fatalf("mint: %v", err)
	}
	grown := rayOf("1050000000000000000000000000")
	real, err := l.BurnAll(alice, grown)
	if err != nil {
		t.Fatalf("burn all: %v", err)
	}
	if !real.Eq(uint256.NewInt(1_050_000)) {
		t.Errorf("burn all returned %s, want 1050000", real.Dec())
	}
	if got := l.ScaledBalanceOf(alice); !got.IsZero() {
		t.Errorf("scaled balance after burn all = %s, want 0", got.Dec())
	}
	if got := l.TotalScaled(); !got.IsZero() {
		t.Errorf("total scaled after burn all = %s, want 0", got.Dec())
	}
}

func TestScaledLedgerDustMintFails(t *testing.T) {
	l := NewScaledLedger[Holder]()
	alice := UserHolder(uuid.New())

	// an amount so small it scales to zero at a huge index must fail
	hugeIndex := new(uint256.Int).Mul(fixedmath.Ray, uint256.NewInt(1_000_000))
	if _, err := l.Mint(alice, uint256.NewInt(1), hugeIndex); !errors.Is(err, ErrInvalidMintAmount) {
		t.Errorf("dust mint: got %v, want ErrInvalidMintAmount", err)
	}
}

func TestScaledLedgerClone(t *testing.T) {
	l := NewScaledLedger[Holder]()
	alice := UserHolder(uuid.New())
	if _, err := l.Mint(alice, uint256.NewInt(1000), fixedmath.Ray); err != nil {
		t.Fatalf("mint: %v", err)
	}

	clone := l.Clone()
	if _, err := clone.BurnAll(alice, fixedmath.Ray); err != nil {
		t.Fatalf("burn on clone: %v", err)
	}
	if got := l.ScaledBalanceOf(alice); !got.Eq(uint256.NewInt(1000)) {
		t.Errorf("clone mutation leaked into original: %s", got.Dec())
	}
}
