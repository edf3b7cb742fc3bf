package epoch

import (
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"lottery-backend/internal/models"
	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Snapshot consistent copy of the epoch taken under the read lock
type Snapshot struct {
	EpochID          uint64
	Status           models.EpochStatus
	Deadline         time.Time
	Params           Params
	TotalDeposited   *uint256.Int
	YieldAmount      *uint256.Int
	StakedAmount     *uint256.Int
	TotalPaid        *uint256.Int
	WinnerCommitment common.Hash
	RandomnessSeed   []byte
	AdminLocked      bool
	Deposits         []Deposit // registration order
}

// ParticipantCount number of deposits
func (s *Snapshot) ParticipantCount() int {
	return len(s.Deposits)
}

// WithdrawnCount deposits whose withdrawn flag is set
func (s *Snapshot) WithdrawnCount() int {
	n := 0
	for i := range s.Deposits {
		if s.Deposits[i].Withdrawn {
			n++
		}
	}
	return n
}

// Commitments commitment list in registration order
func (s *Snapshot) Commitments() []common.Hash {
	out := make([]common.Hash, len(s.Deposits))
	for i := range s.Deposits {
		out[i] = s.Deposits[i].Commitment
	}
	return out
}

// Snapshot copies the full epoch state
func (m *Machine) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &Snapshot{
		EpochID:          m.id,
		Status:           m.status,
		Deadline:         m.deadline,
		Params:           m.Params(),
		TotalDeposited:   m.totalDeposited.Clone(),
		YieldAmount:      m.yieldAmount.Clone(),
		StakedAmount:     m.stakedAmount.Clone(),
		TotalPaid:        m.totalPaid.Clone(),
		WinnerCommitment: m.winner,
		RandomnessSeed:   append([]byte(nil), m.randomness...),
		AdminLocked:      m.adminLocked,
		Deposits:         make([]Deposit, 0, len(m.order)),
	}
	for _, c := range m.order {
		s.Deposits = append(s.Deposits, m.deposits[c].clone())
	}
	return s
}

// Restore rebuilds a machine from a snapshot, checking the aggregate totals
func Restore(s *Snapshot, opts ...Option) (*Machine, error) {
	if !s.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", types.ErrInvalidInput, s.Status)
	}
	m, err := New(s.EpochID, s.Deadline, s.Params, opts...)
	if err != nil {
		return nil, err
	}

	total := new(uint256.Int)
	paid := new(uint256.Int)
	for i := range s.Deposits {
		d := s.Deposits[i].clone()
		if d.Amount == nil {
			return nil, fmt.Errorf("%w: deposit %s has no amount", types.ErrInvalidInput, d.Commitment.Hex())
		}
		if _, dup := m.deposits[d.Commitment]; dup {
			return nil, fmt.Errorf("%w: duplicate commitment %s", types.ErrInconsistentState, d.Commitment.Hex())
		}
		d.Seq = i
		m.deposits[d.Commitment] = &d
		m.order = append(m.order, d.Commitment)
		total.Add(total, d.Amount)
		if d.PaidAmount != nil && !d.PayoutPending {
			paid.Add(paid, d.PaidAmount)
		}
	}
	if s.TotalDeposited != nil && !total.Eq(s.TotalDeposited) {
		return nil, fmt.Errorf("%w: deposits sum to %s, snapshot says %s", types.ErrInconsistentState, total.Dec(), s.TotalDeposited.Dec())
	}
	if s.Status.Rank() >= models.EpochStatusDistributing.Rank() {
		if _, ok := m.deposits[s.WinnerCommitment]; !ok {
			return nil, fmt.Errorf("%w: winner %s not among deposits", types.ErrInconsistentState, s.WinnerCommitment.Hex())
		}
		m.deposits[s.WinnerCommitment].IsWinner = true
	}

	m.status = s.Status
	m.totalDeposited = total
	m.yieldAmount = orZero(s.YieldAmount)
	m.stakedAmount = orZero(s.StakedAmount)
	m.totalPaid = paid
	m.winner = s.WinnerCommitment
	m.randomness = append([]byte(nil), s.RandomnessSeed...)
	m.adminLocked = s.AdminLocked
	return m, nil
}

// Record persisted form of the epoch
func (s *Snapshot) Record() *models.EpochRecord {
	rec := &models.EpochRecord{
		EpochID:         s.EpochID,
		Status:          s.Status,
		Deadline:        s.Deadline,
		MaxParticipants: s.Params.MaxParticipants,
		MinDeposit:      orZero(s.Params.MinDeposit).Dec(),
		TotalDeposited:  orZero(s.TotalDeposited).Dec(),
		YieldAmount:     orZero(s.YieldAmount).Dec(),
		StakedAmount:    orZero(s.StakedAmount).Dec(),
		TotalPaid:       orZero(s.TotalPaid).Dec(),
		AdminLocked:     s.AdminLocked,
	}
	if s.WinnerCommitment != (common.Hash{}) {
		rec.WinnerCommitment = s.WinnerCommitment.Hex()
	}
	if len(s.RandomnessSeed) > 0 {
		rec.RandomnessSeed = hex.EncodeToString(s.RandomnessSeed)
	}
	return rec
}

// DepositRecords persisted form of every deposit
func (s *Snapshot) DepositRecords() []models.DepositRecord {
	out := make([]models.DepositRecord, 0, len(s.Deposits))
	for i := range s.Deposits {
		d := &s.Deposits[i]
		r := models.DepositRecord{
			EpochID:       s.EpochID,
			Commitment:    d.Commitment.Hex(),
			Seq:           d.Seq,
			Amount:        d.Amount.Dec(),
			Withdrawn:     d.Withdrawn,
			PayoutPending: d.PayoutPending,
			IsWinner:      d.IsWinner,
			ClaimTxRef:    d.ClaimTxRef,
			ClaimToken:    d.ClaimToken,
			PayoutTxRef:   d.PayoutTxRef,
		}
		if d.PaidAmount != nil {
			r.PaidAmount = d.PaidAmount.Dec()
		}
		if d.Withdrawn && len(d.Proof) > 0 {
			r.ClaimProof = hex.EncodeToString(d.Proof)
		}
		out = append(out, r)
	}
	return out
}

// SnapshotFromRecords inverse of Record/DepositRecords
func SnapshotFromRecords(rec *models.EpochRecord, deposits []models.DepositRecord) (*Snapshot, error) {
	s := &Snapshot{
		EpochID:     rec.EpochID,
		Status:      rec.Status,
		Deadline:    rec.Deadline,
		AdminLocked: rec.AdminLocked,
		Params:      Params{MaxParticipants: rec.MaxParticipants},
	}
	var err error
	if s.Params.MinDeposit, err = parseAmount(rec.MinDeposit); err != nil {
		return nil, err
	}
	if s.Params.MinDeposit.IsZero() {
		s.Params.MinDeposit = nil
	}
	if s.TotalDeposited, err = parseAmount(rec.TotalDeposited); err != nil {
		return nil, err
	}
	if s.YieldAmount, err = parseAmount(rec.YieldAmount); err != nil {
		return nil, err
	}
	if s.StakedAmount, err = parseAmount(rec.StakedAmount); err != nil {
		return nil, err
	}
	if s.TotalPaid, err = parseAmount(rec.TotalPaid); err != nil {
		return nil, err
	}
	if rec.WinnerCommitment != "" {
		s.WinnerCommitment = common.HexToHash(rec.WinnerCommitment)
	}
	if rec.RandomnessSeed != "" {
		if s.RandomnessSeed, err = hex.DecodeString(rec.RandomnessSeed); err != nil {
			return nil, fmt.Errorf("%w: randomness seed: %v", types.ErrInvalidInput, err)
		}
	}

	sorted := append([]models.DepositRecord(nil), deposits...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })
	for _, r := range sorted {
		amount, err := parseAmount(r.Amount)
		if err != nil {
			return nil, err
		}
		d := Deposit{
			Commitment:    common.HexToHash(r.Commitment),
			Amount:        amount,
			Seq:           r.Seq,
			Withdrawn:     r.Withdrawn,
			PayoutPending: r.PayoutPending,
			IsWinner:      r.IsWinner,
			ClaimTxRef:    r.ClaimTxRef,
			ClaimToken:    r.ClaimToken,
			PayoutTxRef:   r.PayoutTxRef,
		}
		if r.PaidAmount != "" {
			if d.PaidAmount, err = parseAmount(r.PaidAmount); err != nil {
				return nil, err
			}
		}
		if r.ClaimProof != "" {
			if d.Proof, err = hex.DecodeString(r.ClaimProof); err != nil {
				return nil, fmt.Errorf("%w: claim proof of %s: %v", types.ErrInvalidInput, r.Commitment, err)
			}
		}
		s.Deposits = append(s.Deposits, d)
	}
	return s, nil
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", types.ErrInvalidInput, s, err)
	}
	return v, nil
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
