// Package commitment derives and verifies the binding commitments that link a
// participant to a deposit without revealing the amount.
package commitment

import (
	"encoding/binary"
	"fmt"

	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/blake2b"
)

// HashFamily hash function the engine commits under
type HashFamily string

const (
	HashKeccak256  HashFamily = "keccak256"
	HashBlake2b256 HashFamily = "blake2b256"
)

// MaxSecretLength upper bound on secret size in bytes
const MaxSecretLength = 1024

// Engine is pure and safe for concurrent use.
type Engine struct {
	family HashFamily
	sum    func(data ...[]byte) common.Hash
}

// NewEngine engine for the given hash family. Empty family means keccak256.
func NewEngine(family HashFamily) (*Engine, error) {
	switch family {
	case "", HashKeccak256:
		return &Engine{family: HashKeccak256, sum: crypto.Keccak256Hash}, nil
	case HashBlake2b256:
		return &Engine{family: HashBlake2b256, sum: blake2bHash}, nil
	}
	return nil, fmt.Errorf("%w: unknown hash family %q", types.ErrInvalidInput, family)
}

// Default keccak256 engine
func Default() *Engine {
	e, _ := NewEngine(HashKeccak256)
	return e
}

// Family hash family in use
func (e *Engine) Family() HashFamily {
	return e.family
}

// Sum hashes the concatenation of parts
func (e *Engine) Sum(parts ...[]byte) common.Hash {
	return e.sum(parts...)
}

// Commit binds secret and amount: H(len(secret) || secret || decimal(amount)).
// The length prefix keeps ("12", 3) and ("1", 23) apart.
func (e *Engine) Commit(secret []byte, amount *uint256.Int) (common.Hash, error) {
	if err := ValidateInputs(secret, amount); err != nil {
		return common.Hash{}, err
	}
	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(secret)))
	return e.sum(prefix[:], secret, []byte(amount.Dec())), nil
}

// Verify equals Commit(secret, amount) == c. Malformed inputs never verify.
func (e *Engine) Verify(secret []byte, amount *uint256.Int, c common.Hash) bool {
	got, err := e.Commit(secret, amount)
	if err != nil {
		return false
	}
	return got == c
}

// ValidateInputs fail fast on inputs that would otherwise hash default values
func ValidateInputs(secret []byte, amount *uint256.Int) error {
	if len(secret) == 0 {
		return fmt.Errorf("%w: empty secret", types.ErrInvalidInput)
	}
	if len(secret) > MaxSecretLength {
		return fmt.Errorf("%w: secret longer than %d bytes", types.ErrInvalidInput, MaxSecretLength)
	}
	return ValidateAmount(amount)
}

// ValidateAmount amount must be present and positive
func ValidateAmount(amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: missing amount", types.ErrInvalidInput)
	}
	if amount.IsZero() {
		return fmt.Errorf("%w: zero amount", types.ErrInvalidInput)
	}
	return nil
}

// ValidateCommitment rejects the zero hash
func ValidateCommitment(c common.Hash) error {
	if c == (common.Hash{}) {
		return fmt.Errorf("%w: empty commitment", types.ErrInvalidInput)
	}
	return nil
}

// ParseCommitment parse a 0x-prefixed 32-byte hex commitment
func ParseCommitment(s string) (common.Hash, error) {
	raw, err := hexutil.Decode(s)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: commitment must be 0x-prefixed 32-byte hex", types.ErrInvalidInput)
	}
	c := common.BytesToHash(raw)
	if err := ValidateCommitment(c); err != nil {
		return common.Hash{}, err
	}
	return c, nil
}

func blake2bHash(data ...[]byte) common.Hash {
	h, _ := blake2b.New256(nil)
	for _, d := range data {
		h.Write(d)
	}
	return common.BytesToHash(h.Sum(nil))
}
