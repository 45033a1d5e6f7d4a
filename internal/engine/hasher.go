package engine

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "borrowing-protocol:genesis:v1"

// StateHasher maintains the audit log hash chain
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with the genesis hash
func NewStateHasher() *StateHasher {
	genesis := sha256.Sum256([]byte(GenesisHashSeed))
	return &StateHasher{
		prevHash: genesis,
	}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	h.prevHash = hash

	return hash
}

// GetPrevHash returns the current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// Reset rewinds the chain tip (used for snapshot restore)
func (h *StateHasher) Reset(tip [32]byte) {
	h.prevHash = tip
}
