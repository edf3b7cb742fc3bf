package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lottery-backend/internal/metrics"
	"lottery-backend/internal/types"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// Chain labels for adapter calls
const (
	chainSettlement = "settlement"
	chainPrivacy    = "privacy"
)

// RetryPolicy bounded exponential backoff for adapter calls
type RetryPolicy struct {
	Base           time.Duration // first backoff delay
	Cap            time.Duration // ceiling for a single delay
	MaxRetries     uint64        // retries after the first attempt
	JitterPercent  uint64
	CallTimeout    time.Duration // per attempt
	ConfirmTimeout time.Duration // per attempt while waiting for confirmations
	ProofTimeout   time.Duration // per attempt of claim proof generation
}

// DefaultRetryPolicy used when the config leaves values empty
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:           200 * time.Millisecond,
		Cap:            5 * time.Second,
		MaxRetries:     4,
		JitterPercent:  10,
		CallTimeout:    30 * time.Second,
		ConfirmTimeout: 5 * time.Minute,
		ProofTimeout:   5 * time.Minute,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Cap < p.Base {
		p.Cap = p.Base
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = d.CallTimeout
	}
	if p.ConfirmTimeout <= 0 {
		p.ConfirmTimeout = d.ConfirmTimeout
	}
	if p.ProofTimeout <= 0 {
		p.ProofTimeout = d.ProofTimeout
	}
	return p
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.Base)
	b = retry.WithCappedDuration(p.Cap, b)
	if p.JitterPercent > 0 {
		b = retry.WithJitterPercent(p.JitterPercent, b)
	}
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// callAdapter runs fn with a per-attempt timeout, retrying transient failures.
// Permanent errors (rejections, invalid input) return immediately and
// unchanged; exhausted retries are reported as types.ErrStageFailed.
// A timed-out attempt is a failure, never an implicit success.
func callAdapter(ctx context.Context, policy RetryPolicy, timeout time.Duration, chain, op string, fn func(ctx context.Context) error) error {
	log := logrus.WithFields(logrus.Fields{"chain": chain, "op": op})

	attempts := 0
	err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := fn(attemptCtx)
		if err == nil {
			metrics.AdapterCalls.WithLabelValues(chain, op, "ok").Inc()
			return nil
		}
		if types.IsPermanent(err) {
			metrics.AdapterCalls.WithLabelValues(chain, op, "rejected").Inc()
			log.WithField("attempt", attempts).Warnf("⛔ [Adapter] refused: %v", err)
			return err
		}
		if attemptCtx.Err() != nil && !errors.Is(err, types.ErrAdapterFailure) {
			err = fmt.Errorf("%w: %s timed out: %v", types.ErrAdapterFailure, op, err)
		}
		metrics.AdapterCalls.WithLabelValues(chain, op, "transient").Inc()
		log.WithField("attempt", attempts).Warnf("🔁 [Adapter] transient failure: %v", err)
		return retry.RetryableError(err)
	})
	if err == nil || types.IsPermanent(err) {
		return err
	}
	return fmt.Errorf("%w: %s %s gave up after %d attempt(s): %w", types.ErrStageFailed, chain, op, attempts, err)
}
