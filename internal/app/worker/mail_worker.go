package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
	"github.com/wra13107/digital-memorial-landing/internal/metrics"
	"github.com/wra13107/digital-memorial-landing/internal/platform/queue"
)

const (
	DefaultMaxAttempts = 5
	defaultPollTimeout = 5 * time.Second
	defaultRetryDelay  = 2 * time.Second
	queueErrorBackoff  = 5 * time.Second
)

// MailSource is the consuming side of the mail queue.
type MailSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*model.MailJob, error)
	Requeue(ctx context.Context, job model.MailJob) error
}

// MailWorker drains the mail queue one job at a time.
type MailWorker struct {
	source  MailSource
	mailer  Mailer
	metrics metrics.Recorder
	logger  *slog.Logger

	MaxAttempts int
	PollTimeout time.Duration
	RetryDelay  time.Duration
}

func NewMailWorker(source MailSource, mailer Mailer, rec metrics.Recorder, logger *slog.Logger) *MailWorker {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MailWorker{
		source:      source,
		mailer:      mailer,
		metrics:     rec,
		logger:      logger,
		MaxAttempts: DefaultMaxAttempts,
		PollTimeout: defaultPollTimeout,
		RetryDelay:  defaultRetryDelay,
	}
}

// Start blocks until ctx is cancelled.
func (w *MailWorker) Start(ctx context.Context) {
	w.logger.Info("mail worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("mail worker stopping")
			return
		default:
		}

		job, err := w.source.Dequeue(ctx, w.PollTimeout)
		if err != nil {
			switch {
			case errors.Is(err, queue.ErrEmpty):
			case ctx.Err() != nil:
			case errors.Is(err, queue.ErrMalformedJob):
				w.logger.Error("dropping malformed mail job", "error", err)
			default:
				w.logger.Error("failed to dequeue mail job", "error", err)
				sleep(ctx, queueErrorBackoff)
			}
			continue
		}
		w.Process(ctx, *job)
	}
}

// Process delivers job, requeueing it after a transient failure until
// MaxAttempts is reached.
func (w *MailWorker) Process(ctx context.Context, job model.MailJob) {
	err := w.mailer.Send(ctx, job)
	if err == nil {
		w.metrics.RecordMailSent(true)
		w.logger.Info("mail sent", "job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts+1)
		return
	}
	w.metrics.RecordMailSent(false)

	job.Attempts++
	log := w.logger.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts, "error", err)
	if errors.Is(err, ErrPermanent) || job.Attempts >= w.MaxAttempts {
		log.Error("giving up on mail job")
		return
	}
	log.Warn("mail delivery failed, requeueing")

	if !sleep(ctx, w.RetryDelay) {
		// Shutting down; put it back so the next worker picks it up.
		ctx = context.WithoutCancel(ctx)
	}
	if err := w.source.Requeue(ctx, job); err != nil {
		log.Error("failed to requeue mail job", "requeue_error", err)
	}
}

// sleep waits for d or until ctx is done, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
