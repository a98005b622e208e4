package proposals

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pitchly/pitchly/pkg/subscription"
)

// Proposal is a drafted proposal together with the quota state after it
// was charged.
type Proposal struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Remaining int       `json:"remaining"`
	CreatedAt time.Time `json:"created_at"`
}

// Service charges the user's quota and drafts a proposal.
type Service struct {
	guard     *subscription.Guard
	generator Generator
	logger    subscription.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger used by the service.
func WithServiceLogger(logger subscription.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a proposal service.
func NewService(guard *subscription.Guard, generator Generator, opts ...ServiceOption) (*Service, error) {
	if guard == nil {
		return nil, errors.New("proposals: guard is required")
	}
	if generator == nil {
		return nil, errors.New("proposals: generator is required")
	}

	s := &Service{
		guard:     guard,
		generator: generator,
		logger:    &subscription.NoopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create charges one proposal against the user's quota, then drafts it.
// Returns subscription.ErrQuotaExceeded when the user is out of proposals.
// The quota is charged before generation; a generator failure costs the slot.
func (s *Service) Create(ctx context.Context, userID string, req Request) (*Proposal, error) {
	rec, err := s.guard.Allow(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.Draft(ctx, userID, rec, req)
}

// Draft generates a proposal for a request whose quota was already charged,
// e.g. by the quota middleware. rec is the record returned by the charge.
func (s *Service) Draft(ctx context.Context, userID string, rec *subscription.Record, req Request) (*Proposal, error) {
	content, err := s.generator.Generate(ctx, req)
	if err != nil {
		s.logger.Error("proposal generation failed",
			subscription.Field{Key: "user_id", Value: userID},
			subscription.Field{Key: "error", Value: err.Error()})
		return nil, err
	}

	return &Proposal{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   content,
		Remaining: rec.Remaining(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Status returns the user's current subscription record without charging
// quota.
func (s *Service) Status(ctx context.Context, userID string) (*subscription.Record, error) {
	return s.guard.Status(ctx, userID)
}
