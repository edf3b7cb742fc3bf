package app

import (
	"crypto/rand"
	"fmt"

	"lottery-backend/internal/clients"
	"lottery-backend/internal/events"
	"lottery-backend/internal/models"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// memorySimulator plays the outside world for the in-process chains: once the
// pool is staked it accrues a reward and publishes the privacy chain's
// randomness, so an epoch can run end to end without real ledgers.
type memorySimulator struct {
	settlement *clients.MemorySettlementChain
	privacy    *clients.MemoryPrivacyChain
	yieldBps   uint64
	random     func([]byte) (int, error)
}

func newMemorySimulator(settlement *clients.MemorySettlementChain, privacy *clients.MemoryPrivacyChain, yieldBps uint64) *memorySimulator {
	return &memorySimulator{
		settlement: settlement,
		privacy:    privacy,
		yieldBps:   yieldBps,
		random:     rand.Read,
	}
}

// Handler bus observer reacting to staking_started
func (s *memorySimulator) Handler() events.Handler {
	return func(event models.BridgeEvent) error {
		if event.Type != models.BridgeEventStakingStarted {
			return nil
		}
		staked, err := uint256.FromDecimal(event.Amount)
		if err != nil {
			return fmt.Errorf("parse staked amount %q: %w", event.Amount, err)
		}

		reward := new(uint256.Int).Mul(staked, uint256.NewInt(s.yieldBps))
		reward.Div(reward, uint256.NewInt(10000))
		if !reward.IsZero() {
			s.settlement.AccrueReward(reward)
		}

		seed := make([]byte, 32)
		if _, err := s.random(seed); err != nil {
			return fmt.Errorf("draw randomness: %w", err)
		}
		s.privacy.PublishRandomness(seed)

		logrus.WithFields(logrus.Fields{
			"epoch":  event.EpochID,
			"staked": staked.Dec(),
			"reward": reward.Dec(),
		}).Info("🧪 [Simulator] reward accrued and randomness published")
		return nil
	}
}
