package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// HolderScope represents the top-level holder namespace
type HolderScope uint8

const (
	ScopeUser HolderScope = iota
	ScopeReserve
	ScopeTreasury
	ScopeExternal
)

// Holder identifies a balance holder inside one asset's book.
// 17 bytes, comparable, usable as a map key.
type Holder struct {
	Scope    HolderScope
	EntityID [16]byte // UUID for users and external executors, asset tag for reserves
}

// ZeroHolder is the null holder. Operations naming it fail validation.
var ZeroHolder = Holder{}

// UserHolder creates a holder key for a user account
func UserHolder(userID uuid.UUID) Holder {
	return Holder{Scope: ScopeUser, EntityID: userID}
}

// ReserveHolder creates the holder key for a reserve's liquidity-holding account
func ReserveHolder(asset string) Holder {
	var entityID [16]byte
	copy(entityID[:], []byte(asset))
	return Holder{Scope: ScopeReserve, EntityID: entityID}
}

// TreasuryHolder creates the holder key for the protocol treasury
func TreasuryHolder() Holder {
	var entityID [16]byte
	copy(entityID[:], []byte("treasury"))
	return Holder{Scope: ScopeTreasury, EntityID: entityID}
}

// ExternalHolder creates a holder key for an external party, such as a
// flash-loan receiver.
func ExternalHolder(id uuid.UUID) Holder {
	return Holder{Scope: ScopeExternal, EntityID: id}
}

// IsZero reports whether h is the null holder.
func (h Holder) IsZero() bool {
	return h == ZeroHolder
}

// Path returns the string representation for storage/logging
func (h Holder) Path() string {
	switch h.Scope {
	case ScopeUser:
		return fmt.Sprintf("user:%s", uuid.UUID(h.EntityID).String())
	case ScopeReserve:
		return fmt.Sprintf("reserve:%s", trimTag(h.EntityID))
	case ScopeTreasury:
		return "treasury"
	case ScopeExternal:
		return fmt.Sprintf("external:%s", uuid.UUID(h.EntityID).String())
	}
	return "unknown"
}

// ParseHolder is the inverse of Path, used when restoring snapshots.
func ParseHolder(path string) (Holder, error) {
	if path == "treasury" {
		return TreasuryHolder(), nil
	}
	scope, rest, ok := strings.Cut(path, ":")
	if !ok {
		return ZeroHolder, fmt.Errorf("malformed holder path %q", path)
	}
	switch scope {
	case "user", "external":
		id, err := uuid.Parse(rest)
		if err != nil {
			return ZeroHolder, fmt.Errorf("malformed holder path %q: %w", path, err)
		}
		if scope == "user" {
			return UserHolder(id), nil
		}
		return ExternalHolder(id), nil
	case "reserve":
		if rest == "" || len(rest) > 16 {
			return ZeroHolder, fmt.Errorf("malformed holder path %q", path)
		}
		return ReserveHolder(rest), nil
	}
	return ZeroHolder, fmt.Errorf("unknown holder scope in path %q", path)
}

func trimTag(b [16]byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
