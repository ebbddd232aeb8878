// Package sweeper marks appointments nobody showed up for as NO_SHOW.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

const ReasonSweep = "NO_SHOW_SWEEP"

// Engine is satisfied by *booking.Service.
type Engine interface {
	ListOverdue(ctx context.Context, grace time.Duration, limit int) ([]string, error)
	Transition(ctx context.Context, actorCode string, req booking.TransitionRequest) (model.AppointmentView, error)
}

type Config struct {
	Interval  time.Duration
	Grace     time.Duration
	BatchSize int
}

type Worker struct {
	engine    Engine
	logger    *slog.Logger
	interval  time.Duration
	grace     time.Duration
	batchSize int
}

func NewWorker(engine Engine, logger *slog.Logger, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 30 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Worker{
		engine:    engine,
		logger:    logger,
		interval:  cfg.Interval,
		grace:     cfg.Grace,
		batchSize: cfg.BatchSize,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("no-show sweep failed", "err", err)
			}
		}
	}
}

// RunOnce sweeps one batch as the house actor and returns how many
// appointments it marked. Appointments that changed under it are skipped.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	codes, err := w.engine.ListOverdue(ctx, w.grace, w.batchSize)
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, code := range codes {
		_, err := w.engine.Transition(ctx, "", booking.TransitionRequest{
			Code:       code,
			To:         model.StatusNoShow,
			ReasonCode: ReasonSweep,
		})
		switch apperr.KindOf(err) {
		case apperr.KindInternal:
			if err != nil {
				return marked, err
			}
			marked++
		case apperr.KindInvalidTransition, apperr.KindNotFound:
			w.logger.Info("no-show sweep skipped appointment", "appointment_code", code, "err", err)
		default:
			w.logger.Warn("no-show sweep could not mark appointment", "appointment_code", code, "err", err)
		}
	}
	if marked > 0 {
		w.logger.Info("no-show sweep finished", "marked", marked)
	}
	return marked, nil
}
