package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/libs/metrics"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/catalog"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/conflict"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/eligibility"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/notify"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/settings"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/storage"
)

// app is the engine wired to Postgres, shared by every command that needs it.
type app struct {
	pool         *db.Pool
	outbox       *outbox.Repository
	booking      *booking.Service
	availability *availability.Engine
}

func openPool(ctx context.Context, st settings.Settings) (*db.Pool, error) {
	if err := st.RequireDatabase(); err != nil {
		return nil, err
	}
	pool, err := db.Open(ctx, st.DatabaseURL, db.Options{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return pool, nil
}

func newApp(pool *db.Pool, st settings.Settings, logger *slog.Logger, collector *metrics.Collector) *app {
	appointments := storage.NewAppointmentRepository(pool)
	cat := catalog.NewPostgres(pool)
	checker := conflict.NewChecker(appointments)
	outboxRepo := outbox.NewRepository()

	var rules booking.Eligibility = eligibility.Noop{}
	if st.EligibilityURL != "" {
		rules = eligibility.NewClient(eligibility.Config{
			BaseURL:  st.EligibilityURL,
			Timeout:  st.EligibilityTimeout,
			Failures: uint32(st.EligibilityFailures),
			Cooldown: st.EligibilityCooldown,
		})
	}

	svc := booking.NewService(booking.Deps{
		DB:          pool,
		Store:       appointments,
		Plans:       storage.NewPlanRepository(pool),
		Catalog:     cat,
		Shifts:      cat,
		Checker:     checker,
		Eligibility: rules,
		Audit:       storage.NewAuditRepository(),
		Events:      outboxRepo,
		Notifier:    notify.NewDispatcher(pool, outboxRepo),
		Metrics:     collector,
		Logger:      logger,
		Policy: booking.Policy{
			MinLead:        st.MinLead,
			MaxAdvance:     st.MaxAdvance,
			Location:       st.Location,
			HouseActorCode: st.HouseActorCode,
		},
	})
	engine := availability.NewEngine(pool, cat, cat, checker, availability.Config{
		Stride:   st.SlotStride,
		Location: st.Location,
	})
	return &app{pool: pool, outbox: outboxRepo, booking: svc, availability: engine}
}
