package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "lendpool:genesis:v1"

// StateHasher chains per-event state hashes:
// hash[N] = SHA-256(hash[N-1] || sequence LE || state digest).
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher starts the chain at the genesis seed hash.
func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: sha256.Sum256([]byte(GenesisHashSeed))}
}

// ComputeHash appends one link to the chain and returns it.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))

	hasher := sha256.New()
	hasher.Write(h.prevHash[:])
	hasher.Write(seqBuf[:])
	hasher.Write(stateDigest)
	copy(h.prevHash[:], hasher.Sum(nil))
	return h.prevHash
}

// GetPrevHash returns the current chain tip.
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resets the chain tip, used when restoring from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}
