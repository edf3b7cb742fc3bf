package commitment

import (
	"fmt"
	"testing"

	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitRoundTrip(t *testing.T) {
	for _, family := range []HashFamily{HashKeccak256, HashBlake2b256} {
		e, err := NewEngine(family)
		require.NoError(t, err)

		secret := []byte("correct horse battery staple")
		amount := uint256.NewInt(100)

		c, err := e.Commit(secret, amount)
		require.NoError(t, err)
		assert.True(t, e.Verify(secret, amount, c), family)

		again, err := e.Commit(secret, amount)
		require.NoError(t, err)
		assert.Equal(t, c, again, "commit must be deterministic")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	e := Default()
	secret := []byte("s3cret")
	amount := uint256.NewInt(250)
	c, err := e.Commit(secret, amount)
	require.NoError(t, err)

	tampered := c
	tampered[31] ^= 0x01
	assert.False(t, e.Verify(secret, amount, tampered))
	assert.False(t, e.Verify(secret, uint256.NewInt(251), c))
	assert.False(t, e.Verify([]byte("s3cres"), amount, c))
	assert.False(t, e.Verify(nil, amount, c))
	assert.False(t, e.Verify(secret, nil, c))
}

func TestCommitNoCollisions(t *testing.T) {
	e := Default()
	seen := make(map[common.Hash]string, 4000)
	for i := 0; i < 200; i++ {
		secret := []byte(fmt.Sprintf("secret-%d", i))
		for a := uint64(1); a <= 20; a++ {
			c, err := e.Commit(secret, uint256.NewInt(a))
			require.NoError(t, err)
			key := fmt.Sprintf("%d/%d", i, a)
			if prev, dup := seen[c]; dup {
				t.Fatalf("collision between %s and %s", prev, key)
			}
			seen[c] = key
		}
	}
	assert.Len(t, seen, 4000)
}

func TestCommitConcatenationIsUnambiguous(t *testing.T) {
	e := Default()
	a, err := e.Commit([]byte("12"), uint256.NewInt(3))
	require.NoError(t, err)
	b, err := e.Commit([]byte("1"), uint256.NewInt(23))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHashFamiliesDiffer(t *testing.T) {
	k := Default()
	b, err := NewEngine(HashBlake2b256)
	require.NoError(t, err)

	ck, err := k.Commit([]byte("x"), uint256.NewInt(1))
	require.NoError(t, err)
	cb, err := b.Commit([]byte("x"), uint256.NewInt(1))
	require.NoError(t, err)
	assert.NotEqual(t, ck, cb)
}

func TestCommitInvalidInput(t *testing.T) {
	e := Default()

	_, err := e.Commit(nil, uint256.NewInt(1))
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = e.Commit([]byte("s"), nil)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = e.Commit([]byte("s"), uint256.NewInt(0))
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = e.Commit(make([]byte, MaxSecretLength+1), uint256.NewInt(1))
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = NewEngine("sha1")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestParseCommitment(t *testing.T) {
	c, err := Default().Commit([]byte("s"), uint256.NewInt(7))
	require.NoError(t, err)

	parsed, err := ParseCommitment(c.Hex())
	require.NoError(t, err)
	assert.Equal(t, c, parsed)

	for _, bad := range []string{"", "0x", "0x1234", c.Hex()[2:], common.Hash{}.Hex(), "0x" + "zz" + c.Hex()[4:]} {
		_, err := ParseCommitment(bad)
		assert.ErrorIs(t, err, types.ErrInvalidInput, bad)
	}
}

func TestCommitMatchesPublishedPreimage(t *testing.T) {
	secret := []byte("auditor")
	amount := uint256.NewInt(1500)
	preimage := append([]byte{0x00, byte(len(secret))}, secret...)
	preimage = append(preimage, []byte("1500")...)

	c, err := Default().Commit(secret, amount)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(preimage), c)
}
