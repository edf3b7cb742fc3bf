package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"lottery-backend/internal/interfaces"
	"lottery-backend/internal/models"
	"lottery-backend/internal/types"

	"github.com/sirupsen/logrus"
)

// CrossCheck reads both chains and compares them with the local epoch.
// Deposits may run concurrently; stage drivers are excluded so a half-done
// stage is never mistaken for a disagreement.
func (c *Coordinator) CrossCheck(ctx context.Context) error {
	c.stageMu.RLock()
	defer c.stageMu.RUnlock()

	m, err := c.active("cross_check")
	if err != nil {
		return err
	}

	var (
		settlement *interfaces.SettlementPoolState
		privacy    *interfaces.PrivacyPoolState
		wg         sync.WaitGroup
		sErr, pErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		settlement, sErr = c.readSettlement(ctx)
	}()
	go func() {
		defer wg.Done()
		privacy, pErr = c.readPrivacy(ctx)
	}()
	wg.Wait()
	if sErr != nil {
		return c.fail("cross_check", m, sErr)
	}
	if pErr != nil {
		return c.fail("cross_check", m, pErr)
	}

	if err := m.CrossCheck(settlement, privacy); err != nil {
		return c.fail("cross_check", m, err)
	}
	return nil
}

// ReportInconsistency raise a cross-chain disagreement for the active epoch
func (c *Coordinator) ReportInconsistency(ctx context.Context, stage string, err error) {
	m := c.current()
	if m == nil {
		return
	}
	c.inconsistent(ctx, m, stage, err)
}

// PollingService periodically cross-checks both chains and, when enabled,
// advances the epoch through whichever stage is due.
type PollingService struct {
	coordinator  *Coordinator
	pollInterval time.Duration
	autoAdvance  bool

	running bool
	stopCh  chan struct{}
	trigger chan struct{}
	mutex   sync.Mutex

	// last reported disagreement per epoch, so one fact is reported once
	reportedMu sync.Mutex
	reported   map[uint64]string
}

// NewPollingService create a polling service
func NewPollingService(coordinator *Coordinator, pollInterval time.Duration, autoAdvance bool) *PollingService {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return &PollingService{
		coordinator:  coordinator,
		pollInterval: pollInterval,
		autoAdvance:  autoAdvance,
		stopCh:       make(chan struct{}),
		trigger:      make(chan struct{}, 1),
		reported:     make(map[uint64]string),
	}
}

// Start launch the poll loop
func (s *PollingService) Start() {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return
	}
	s.running = true
	s.mutex.Unlock()

	logrus.WithFields(logrus.Fields{
		"interval":     s.pollInterval,
		"auto_advance": s.autoAdvance,
	}).Info("🚀 [Polling] starting cross-chain polling")
	go s.loop()
}

// Stop stop the poll loop
func (s *PollingService) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	logrus.Info("🛑 [Polling] stopped")
}

// Trigger request an immediate poll, e.g. when a chain watcher reports a new block
func (s *PollingService) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *PollingService) loop() {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		case <-s.trigger:
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.pollInterval*4)
		s.PollOnce(ctx)
		cancel()
	}
}

// PollOnce one cross-check and, when enabled, one Advance
func (s *PollingService) PollOnce(ctx context.Context) {
	snap, err := s.coordinator.Snapshot()
	if err != nil {
		logrus.Debug("[Polling] no active epoch")
		return
	}
	if snap.Status == models.EpochStatusCompleted {
		return
	}

	if err := s.coordinator.CrossCheck(ctx); err != nil {
		if isInconsistent(err) {
			s.report(ctx, snap.EpochID, err)
		} else {
			logrus.WithField("epoch", snap.EpochID).Warnf("⚠️ [Polling] cross-check unavailable: %v", err)
		}
		// never advance on top of a disagreement
		return
	}
	s.clear(snap.EpochID)

	if !s.autoAdvance {
		return
	}
	res, err := s.coordinator.Advance(ctx)
	if err != nil {
		logrus.WithField("epoch", snap.EpochID).Warnf("⚠️ [Polling] advance failed: %v", err)
		return
	}
	if res.Stage != "" {
		logrus.WithFields(logrus.Fields{
			"epoch":  res.EpochID,
			"stage":  res.Stage,
			"status": res.Status,
		}).Info("⏩ [Polling] epoch advanced")
	}
}

func (s *PollingService) report(ctx context.Context, epochID uint64, err error) {
	fingerprint := err.Error()
	s.reportedMu.Lock()
	if s.reported[epochID] == fingerprint {
		s.reportedMu.Unlock()
		return
	}
	s.reported[epochID] = fingerprint
	s.reportedMu.Unlock()

	logrus.WithField("epoch", epochID).Errorf("🚨 [Polling] chains disagree: %v", err)
	s.coordinator.ReportInconsistency(ctx, "cross_check", err)
}

func (s *PollingService) clear(epochID uint64) {
	s.reportedMu.Lock()
	delete(s.reported, epochID)
	s.reportedMu.Unlock()
}

func isInconsistent(err error) bool {
	return errors.Is(err, types.ErrInconsistentState)
}
