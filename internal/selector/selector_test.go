package selector

import (
	"fmt"
	"testing"

	"lottery-backend/internal/commitment"
	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeCommitments(n int) []common.Hash {
	out := make([]common.Hash, n)
	for i := range out {
		out[i] = crypto.Keccak256Hash([]byte(fmt.Sprintf("participant-%d", i)))
	}
	return out
}

func TestSelectDeterministic(t *testing.T) {
	cs := makeCommitments(7)
	r := []byte("block-hash-at-close")

	idx, winner, err := Select(nil, cs, r)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, w, err := Select(commitment.Default(), cs, r)
		require.NoError(t, err)
		assert.Equal(t, idx, again)
		assert.Equal(t, winner, w)
	}
	assert.Equal(t, cs[idx], winner)
}

func TestSelectEmptyPool(t *testing.T) {
	_, _, err := Select(nil, nil, []byte("r"))
	assert.ErrorIs(t, err, types.ErrEmptyPool)

	_, _, err = Select(nil, []common.Hash{}, []byte("r"))
	assert.ErrorIs(t, err, types.ErrEmptyPool)
}

func TestSelectEmptyRandomness(t *testing.T) {
	_, _, err := Select(nil, makeCommitments(2), nil)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestSelectIndexInRange(t *testing.T) {
	for n := 1; n <= 40; n++ {
		cs := makeCommitments(n)
		for r := 0; r < 25; r++ {
			idx, w, err := Select(nil, cs, []byte(fmt.Sprintf("r-%d", r)))
			require.NoError(t, err)
			require.GreaterOrEqual(t, idx, 0)
			require.Less(t, idx, n)
			require.Equal(t, cs[idx], w)
		}
	}
}

func TestSelectOrderMatters(t *testing.T) {
	cs := makeCommitments(5)
	reversed := make([]common.Hash, len(cs))
	for i := range cs {
		reversed[len(cs)-1-i] = cs[i]
	}
	differs := false
	for r := 0; r < 16 && !differs; r++ {
		seed := []byte(fmt.Sprintf("seed-%d", r))
		a := Digest(commitment.Default(), cs, seed)
		b := Digest(commitment.Default(), reversed, seed)
		differs = a != b
	}
	assert.True(t, differs)
}

func TestSelectSpreadsAcrossParticipants(t *testing.T) {
	const n, rounds = 4, 4000
	cs := makeCommitments(n)
	hits := make([]int, n)
	for r := 0; r < rounds; r++ {
		idx, _, err := Select(nil, cs, []byte(fmt.Sprintf("round-%d", r)))
		require.NoError(t, err)
		hits[idx]++
	}
	for i, h := range hits {
		// expected 1000 each; bounds are loose enough to never flake
		assert.Greater(t, h, 800, "participant %d", i)
		assert.Less(t, h, 1200, "participant %d", i)
	}
}

func TestSelectHashFamilyChangesDigest(t *testing.T) {
	b, err := commitment.NewEngine(commitment.HashBlake2b256)
	require.NoError(t, err)
	cs := makeCommitments(3)
	assert.NotEqual(t, Digest(commitment.Default(), cs, []byte("r")), Digest(b, cs, []byte("r")))
}
