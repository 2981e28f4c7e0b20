package analysis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/profile-insight/internal/application"
	domain "github.com/bryanwahyu/profile-insight/internal/domain/analysis"
	"github.com/bryanwahyu/profile-insight/internal/logger"
)

// DefaultTTL is the retention window applied on every write.
const DefaultTTL = time.Hour

// Outcome of a webhook delivery that did not fail.
type Outcome string

const (
	OutcomeProcessed         Outcome = "processed"
	OutcomeAlreadyProcessed  Outcome = "already_processed"
	OutcomeAlreadyProcessing Outcome = "already_processing"
)

// Metrics port; nil disables instrumentation.
type Metrics interface {
	ObserveTransition(to domain.Status)
	ObserveWebhook(outcome string)
	ObserveGeneration(d time.Duration, err error)
}

// Service owns the analysis lifecycle: pending -> processing -> completed|failed.
// Service is safe for concurrent use; all shared state lives in Repo.
type Service struct {
	Repo      domain.Repository
	Queue     domain.Queue
	Generator domain.Generator
	Clock     application.Clock
	TTL       time.Duration
	Metrics   Metrics

	// NewID overrides request id generation (tests).
	NewID func() string
}

// Create persists a pending record and schedules its delayed processing.
// The record is written before the queue is contacted so a delivery can
// never arrive ahead of it.
func (s *Service) Create(ctx context.Context, in domain.Input) (domain.ID, error) {
	id := domain.ID(s.newID())
	ctx = logger.With(ctx, zap.String(logger.FieldAnalysisID, string(id)))
	log := logger.FromContext(ctx)

	log.Info("Creating analysis request")

	rec := domain.NewRecord(id, in, s.now())
	if err := s.Repo.Put(ctx, rec, s.ttl()); err != nil {
		return "", s.abortCreate(ctx, id, err)
	}
	log.Debug("Analysis saved to store")
	s.observeTransition(domain.StatusPending)

	if err := s.Queue.Enqueue(ctx, id); err != nil {
		return "", s.abortCreate(ctx, id, err)
	}
	log.Info("Analysis enqueued")

	return id, nil
}

// abortCreate marks the record failed if it exists. The write is best effort;
// its own failure is logged and dropped so the original error surfaces.
func (s *Service) abortCreate(ctx context.Context, id domain.ID, cause error) error {
	log := logger.FromContext(ctx)
	log.Error("Failed to create analysis", zap.Error(cause))

	msg := cause.Error()
	rec, err := s.Repo.Update(ctx, id, s.ttl(), func(r *domain.Record) error {
		return r.Fail(msg, s.now())
	})
	switch {
	case err != nil:
		log.Debug("Could not mark analysis failed", zap.Error(err))
	case rec != nil:
		s.observeTransition(domain.StatusFailed)
	}
	return cause
}

// ProcessWebhook runs the generator for a pending record. Repeat deliveries
// for a record that is processing or terminal are acknowledged without
// touching it. The pending -> processing claim is a conditional write, so
// of two racing deliveries at most one reaches the generator.
//
// Processing is detached from ctx cancellation: once started it runs to
// completion even if the caller goes away.
func (s *Service) ProcessWebhook(ctx context.Context, id domain.ID) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	ctx = logger.With(ctx, zap.String(logger.FieldAnalysisID, string(id)))
	log := logger.FromContext(ctx)

	log.Info("Processing webhook")

	rec, err := s.Repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if rec == nil {
		log.Warn("Analysis record not found for webhook")
		return "", errors.Wrapf(domain.ErrNotFound, "analysis %s", id)
	}

	if rec.Status.Terminal() {
		log.Info("Analysis already processed, skipping", zap.String(logger.FieldStatus, string(rec.Status)))
		return s.outcome(OutcomeAlreadyProcessed), nil
	}
	if rec.Status != domain.StatusPending {
		log.Warn("Analysis is not in pending status", zap.String(logger.FieldStatus, string(rec.Status)))
		return s.outcome(OutcomeAlreadyProcessing), nil
	}

	claimed, err := s.Repo.Update(ctx, id, s.ttl(), func(r *domain.Record) error {
		return r.Claim(s.now())
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		log.Warn("Analysis claimed by a concurrent delivery")
		return s.outcome(OutcomeAlreadyProcessing), nil
	}
	if err != nil {
		return "", err
	}
	if claimed == nil {
		log.Warn("Analysis record expired before claim")
		return "", errors.Wrapf(domain.ErrNotFound, "analysis %s", id)
	}
	s.observeTransition(domain.StatusProcessing)
	log.Debug("Analysis status updated to processing")

	start := time.Now()
	result, genErr := s.Generator.Generate(ctx, claimed.Input)
	if s.Metrics != nil {
		s.Metrics.ObserveGeneration(time.Since(start), genErr)
	}
	if genErr != nil {
		if !errors.Is(genErr, domain.ErrProvider) {
			genErr = errors.Mark(genErr, domain.ErrProvider)
		}
		log.Error("Failed to generate analysis", zap.Error(genErr))
		s.fail(ctx, id, genErr)
		s.outcome("failed")
		return "", genErr
	}

	_, err = s.Repo.Update(ctx, id, s.ttl(), func(r *domain.Record) error {
		return r.Complete(result, s.now())
	})
	if err != nil {
		log.Error("Failed to store analysis result", zap.Error(err))
		s.fail(ctx, id, err)
		s.outcome("failed")
		return "", err
	}
	s.observeTransition(domain.StatusCompleted)
	log.Info("Analysis completed successfully")

	return s.outcome(OutcomeProcessed), nil
}

// fail converts a processing error into a terminal failed record.
func (s *Service) fail(ctx context.Context, id domain.ID, cause error) {
	msg := cause.Error()
	_, err := s.Repo.Update(ctx, id, s.ttl(), func(r *domain.Record) error {
		return r.Fail(msg, s.now())
	})
	if err != nil {
		logger.FromContext(ctx).Error("Failed to mark analysis failed", zap.Error(err))
		return
	}
	s.observeTransition(domain.StatusFailed)
}

// GetStatus is a pure read.
func (s *Service) GetStatus(ctx context.Context, id domain.ID) (*domain.Record, error) {
	rec, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.Wrapf(domain.ErrNotFound, "analysis %s", id)
	}
	return rec, nil
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.Repo.Ping(ctx)
}

func (s *Service) outcome(o Outcome) Outcome {
	if s.Metrics != nil {
		s.Metrics.ObserveWebhook(string(o))
	}
	return o
}

func (s *Service) observeTransition(to domain.Status) {
	if s.Metrics != nil {
		s.Metrics.ObserveTransition(to)
	}
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return application.SystemClock{}.Now()
	}
	return s.Clock.Now()
}

func (s *Service) ttl() time.Duration {
	if s.TTL <= 0 {
		return DefaultTTL
	}
	return s.TTL
}
