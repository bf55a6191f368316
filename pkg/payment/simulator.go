package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Simulator approves a configurable share of charges, for development and load tests
type Simulator struct {
	successRate float64
	latency     time.Duration
	roll        func() float64
	logger      *logrus.Logger
}

// SimulatorOption configures a Simulator
type SimulatorOption func(*Simulator)

// WithLatency delays every call by d
func WithLatency(d time.Duration) SimulatorOption {
	return func(s *Simulator) { s.latency = d }
}

// WithRoll replaces the random source; roll returns values in [0, 1)
func WithRoll(roll func() float64) SimulatorOption {
	return func(s *Simulator) { s.roll = roll }
}

// NewSimulator creates a simulator approving successRate of charges
func NewSimulator(successRate float64, logger *logrus.Logger, opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		successRate: successRate,
		roll:        rand.Float64,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Charge implements Gateway
func (s *Simulator) Charge(ctx context.Context, req ChargeRequest) (*Result, error) {
	if !req.Amount.IsPositive() {
		return &Result{Status: StatusFailure, Message: "amount must be positive"}, nil
	}
	if res := s.wait(ctx); res != nil {
		return res, nil
	}

	if s.roll() >= s.successRate {
		s.logger.WithField("reference", req.Reference).Info("Simulated payment declined")
		return &Result{Status: StatusFailure, Message: "card declined"}, nil
	}

	txID := fmt.Sprintf("SIM-%s", uuid.NewString())
	s.logger.WithFields(logrus.Fields{
		"reference":      req.Reference,
		"amount":         req.Amount.StringFixed(2),
		"transaction_id": txID,
	}).Info("Simulated payment approved")
	return &Result{Status: StatusSuccess, TransactionID: txID}, nil
}

// Refund implements Gateway. Simulated refunds always settle.
func (s *Simulator) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	if res := s.wait(ctx); res != nil {
		return res, nil
	}
	return &Result{Status: StatusSuccess, TransactionID: fmt.Sprintf("SIMR-%s", uuid.NewString())}, nil
}

func (s *Simulator) wait(ctx context.Context) *Result {
	if s.latency <= 0 {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Result{Status: StatusTimeout, Message: "deadline exceeded"}
		}
		return nil
	}
	timer := time.NewTimer(s.latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return &Result{Status: StatusTimeout, Message: ctx.Err().Error()}
	}
}
