// Package selector picks the winning commitment of an epoch from the ordered
// commitment list and a public randomness value.
package selector

import (
	"encoding/binary"
	"fmt"

	"lottery-backend/internal/commitment"
	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
)

// PrefixBytes width of the hash prefix interpreted as the selection integer
const PrefixBytes = 8

// Select returns the winning index and commitment.
// digest = H(c0 || c1 || ... || cn-1 || randomness), index = uint64(digest[:8]) mod n.
// commitments must be in registration order.
func Select(engine *commitment.Engine, commitments []common.Hash, randomness []byte) (int, common.Hash, error) {
	if len(commitments) == 0 {
		return 0, common.Hash{}, types.ErrEmptyPool
	}
	if len(randomness) == 0 {
		return 0, common.Hash{}, fmt.Errorf("%w: empty randomness", types.ErrInvalidInput)
	}
	if engine == nil {
		engine = commitment.Default()
	}

	digest := Digest(engine, commitments, randomness)
	value := binary.BigEndian.Uint64(digest[:PrefixBytes])
	index := int(value % uint64(len(commitments)))
	return index, commitments[index], nil
}

// Digest hash over the concatenated commitments and randomness
func Digest(engine *commitment.Engine, commitments []common.Hash, randomness []byte) common.Hash {
	parts := make([][]byte, 0, len(commitments)+1)
	for i := range commitments {
		parts = append(parts, commitments[i].Bytes())
	}
	parts = append(parts, randomness)
	return engine.Sum(parts...)
}
