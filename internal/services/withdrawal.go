package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lottery-backend/internal/commitment"
	"lottery-backend/internal/epoch"
	"lottery-backend/internal/metrics"
	"lottery-backend/internal/models"
	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// Settlement result of one withdrawal
type Settlement struct {
	EpochID     uint64
	Commitment  common.Hash
	IsWinner    bool
	Principal   *uint256.Int
	Yield       *uint256.Int
	Total       *uint256.Int
	ClaimTxRef  string
	ClaimToken  string
	PayoutTxRef string
	Status      models.EpochStatus // epoch status after the withdrawal
}

// ProcessWithdrawal settles one commitment: the secret must open it, the
// privacy chain must accept the claim proof, and only then is the withdrawn
// flag set and the settlement chain asked to pay. A second attempt for the
// same commitment fails with types.ErrAlreadyWithdrawn.
func (c *Coordinator) ProcessWithdrawal(ctx context.Context, cm common.Hash, secret []byte) (*Settlement, error) {
	start := time.Now()
	// nil when no epoch exists; input errors then carry no status
	current := c.current()
	if err := commitment.ValidateCommitment(cm); err != nil {
		return nil, c.rejectWithdrawal(current, "invalid_input", err)
	}
	if len(secret) == 0 || len(secret) > commitment.MaxSecretLength {
		return nil, c.rejectWithdrawal(current, "invalid_input", fmt.Errorf("%w: secret must be 1..%d bytes", types.ErrInvalidInput, commitment.MaxSecretLength))
	}

	m, err := c.active(StageWithdraw)
	if err != nil {
		return nil, err
	}

	unlock := m.LockCommitment(cm)
	defer unlock()

	plan, err := m.PlanWithdrawal(cm)
	if err != nil {
		return nil, c.rejectWithdrawal(m, reasonOf(err), err)
	}
	if !c.engine.Verify(secret, plan.Principal, cm) {
		return nil, c.rejectWithdrawal(m, "secret_mismatch", fmt.Errorf("%w: secret does not open commitment %s", types.ErrInvalidInput, cm.Hex()))
	}

	log := logrus.WithFields(logrus.Fields{
		"epoch":      m.ID(),
		"commitment": cm.Hex(),
		"kind":       plan.Kind(),
	})
	log.Info("💸 [Withdrawal] processing")

	var proof []byte
	err = callAdapter(ctx, c.retry, c.retry.ProofTimeout, chainPrivacy, "generate_proof", func(ctx context.Context) error {
		p, err := c.privacy.GenerateProof(ctx, plan.Kind(), secret, cm, plan.WinnerCommitment)
		proof = p
		return err
	})
	if err != nil {
		return nil, c.rejectWithdrawal(m, reasonOf(err), err)
	}

	var claimTx, claimToken string
	err = c.call(ctx, chainPrivacy, "claim", func(ctx context.Context) error {
		r, err := c.privacy.Claim(ctx, cm, proof, plan.IsWinner)
		if err != nil {
			return err
		}
		claimTx, claimToken = r.TxRef, r.ClaimToken
		return nil
	})
	if err != nil {
		return nil, c.rejectWithdrawal(m, reasonOf(err), err)
	}

	plan, err = m.MarkWithdrawn(cm, proof, claimTx, claimToken)
	if err != nil {
		return nil, c.rejectWithdrawal(m, reasonOf(err), err)
	}
	c.persist(m)

	payoutTx, err := c.payout(ctx, m, plan)
	if err != nil {
		c.reconcile(ctx, &models.ReconciliationRecord{
			Kind:           models.ReconciliationKindPayoutFailed,
			EpochID:        m.ID(),
			Stage:          StagePayout,
			EpochStatus:    m.Status(),
			CommittedChain: models.ChainPrivacy,
			Commitment:     cm.Hex(),
			TxRef:          claimTx,
			LastError:      err.Error(),
		})
		return nil, c.stageFailed(StagePayout, m, start, err)
	}

	settled, err := c.settled(ctx, m, plan, payoutTx, start)
	if err != nil {
		return nil, err
	}
	log.WithField("payout_tx", payoutTx).Info("✅ [Withdrawal] settled")
	return settled, nil
}

// RetryPayout re-attempts the settlement payout for a commitment whose claim
// was accepted but whose payout never confirmed.
func (c *Coordinator) RetryPayout(ctx context.Context, cm common.Hash) (*Settlement, error) {
	start := time.Now()
	m, err := c.active(StagePayout)
	if err != nil {
		return nil, err
	}

	unlock := m.LockCommitment(cm)
	defer unlock()

	plan, err := m.PendingPayout(cm)
	if err != nil {
		return nil, c.fail(StagePayout, m, err)
	}
	logrus.WithFields(logrus.Fields{
		"epoch":      m.ID(),
		"commitment": cm.Hex(),
	}).Info("🔁 [Withdrawal] retrying payout")

	payoutTx, err := c.payout(ctx, m, plan)
	if err != nil {
		return nil, c.stageFailed(StagePayout, m, start, err)
	}
	return c.settled(ctx, m, plan, payoutTx, start)
}

// payout pays the winner or a loser on the settlement chain and waits for confirmation
func (c *Coordinator) payout(ctx context.Context, m *epoch.Machine, plan epoch.WithdrawalPlan) (string, error) {
	var txRef string
	op := "pay_loser"
	if plan.IsWinner {
		op = "pay_winner"
	}
	err := c.call(ctx, chainSettlement, op, func(ctx context.Context) error {
		var (
			tx  string
			err error
		)
		if plan.IsWinner {
			tx, err = c.settlement.PayWinner(ctx, plan.Commitment, plan.Proof, plan.Principal, plan.Yield)
		} else {
			tx, err = c.settlement.PayLoser(ctx, plan.Commitment, plan.Proof, plan.Principal)
		}
		txRef = tx
		return err
	})
	if err != nil {
		return "", err
	}
	if err := c.waitConfirmed(ctx, chainSettlement, txRef); err != nil {
		return "", err
	}
	return txRef, nil
}

// settled records a confirmed payout, emits the event and closes the epoch when it was the last one
func (c *Coordinator) settled(ctx context.Context, m *epoch.Machine, plan epoch.WithdrawalPlan, payoutTx string, start time.Time) (*Settlement, error) {
	total := plan.Total()
	if err := m.RecordPayout(plan.Commitment, payoutTx, total); err != nil {
		return nil, c.fail(StagePayout, m, err)
	}
	c.persist(m)
	metrics.WithdrawalsSettled.WithLabelValues(string(plan.Kind())).Inc()
	c.observe(StageWithdraw, start, nil)

	d, _ := m.Deposit(plan.Commitment)
	c.emit(m, models.BridgeEvent{
		Type:       models.BridgeEventWithdrawalSettled,
		Commitment: plan.Commitment.Hex(),
		TxRef:      payoutTx,
		Amount:     total.Dec(),
		Details: map[string]string{
			"kind":     string(plan.Kind()),
			"claim_tx": d.ClaimTxRef,
		},
	})

	if err := c.tryComplete(ctx, m); err != nil {
		logrus.WithField("epoch", m.ID()).Warnf("⚠️ [Withdrawal] epoch not completed: %v", err)
	}

	return &Settlement{
		EpochID:     m.ID(),
		Commitment:  plan.Commitment,
		IsWinner:    plan.IsWinner,
		Principal:   plan.Principal,
		Yield:       plan.Yield,
		Total:       total,
		ClaimTxRef:  d.ClaimTxRef,
		ClaimToken:  d.ClaimToken,
		PayoutTxRef: payoutTx,
		Status:      m.Status(),
	}, nil
}

func (c *Coordinator) rejectWithdrawal(m *epoch.Machine, reason string, err error) error {
	metrics.WithdrawalsRejected.WithLabelValues(reason).Inc()
	if m == nil {
		return &types.CoordinatorError{Op: StageWithdraw, Err: err}
	}
	if errors.Is(err, types.ErrStageFailed) {
		metrics.StageFailures.WithLabelValues(StageWithdraw).Inc()
	}
	return c.fail(StageWithdraw, m, err)
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, types.ErrAlreadyWithdrawn):
		return "already_withdrawn"
	case errors.Is(err, types.ErrInvalidTransition):
		return "not_distributing"
	case errors.Is(err, types.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, types.ErrRejected):
		return "proof_rejected"
	case errors.Is(err, types.ErrStageFailed):
		return "adapter_exhausted"
	}
	return "other"
}
