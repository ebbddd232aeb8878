// Package settings gathers the scheduling-service process configuration.
package settings

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/config"
)

type Settings struct {
	ServiceName string
	Port        string
	GRPCPort    string
	DatabaseURL string

	RedisAddr       string
	RateLimit       int
	RateWindow      time.Duration
	RateFailOpen    bool
	KafkaBrokers    string
	KafkaGroupID    string
	StatusTopic     string
	OutboxPoll      time.Duration
	OutboxBatch     int
	OutboxRetention time.Duration // 0 keeps published rows forever
	CORSOrigins     []string
	RequestTimeout  time.Duration

	Location       *time.Location
	MinLead        time.Duration
	MaxAdvance     time.Duration
	SlotStride     time.Duration
	HouseActorCode string

	AuthSecret   string
	AuthJWKSURL  string
	AuthRequired bool

	EligibilityURL      string
	EligibilityTimeout  time.Duration
	EligibilityFailures int
	EligibilityCooldown time.Duration

	NoShowSweepInterval time.Duration
	NoShowGrace         time.Duration
	NoShowBatch         int
}

// Load reads every setting. CONFIG_FILE, when set, is merged first and the
// environment overrides it.
func Load() (Settings, error) {
	if err := config.LoadFile(config.String("CONFIG_FILE", "")); err != nil {
		return Settings{}, err
	}

	var s Settings
	var err error
	s.ServiceName = config.String("SERVICE_NAME", "scheduling-service")
	if s.Port, err = config.Port("PORT", "8090"); err != nil {
		return Settings{}, err
	}
	if s.GRPCPort, err = config.Port("GRPC_PORT", "9090"); err != nil {
		return Settings{}, err
	}
	s.DatabaseURL = config.String("DATABASE_URL", "")

	s.RedisAddr = config.String("REDIS_ADDR", "")
	if s.RateLimit, err = config.Int("RATE_LIMIT_REQUESTS", 120); err != nil {
		return Settings{}, err
	}
	if s.RateWindow, err = config.Duration("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return Settings{}, err
	}
	if s.RateFailOpen, err = config.Bool("RATE_LIMIT_FAIL_OPEN", true); err != nil {
		return Settings{}, err
	}
	s.KafkaBrokers = config.String("KAFKA_BROKERS", "")
	s.KafkaGroupID = config.String("KAFKA_GROUP_ID", "scheduling-service")
	s.StatusTopic = config.String("KAFKA_STATUS_COMMAND_TOPIC", "clinic.appointment.status-command.v1")
	if s.OutboxPoll, err = config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second); err != nil {
		return Settings{}, err
	}
	if s.OutboxBatch, err = config.Int("OUTBOX_BATCH_SIZE", 50); err != nil {
		return Settings{}, err
	}
	if s.OutboxRetention, err = config.Duration("OUTBOX_RETENTION", 7*24*time.Hour); err != nil {
		return Settings{}, err
	}
	s.CORSOrigins = config.Strings("CORS_ALLOWED_ORIGINS", nil)
	if s.RequestTimeout, err = config.Duration("REQUEST_TIMEOUT", 15*time.Second); err != nil {
		return Settings{}, err
	}

	tz := config.String("CLINIC_TIMEZONE", "UTC")
	if s.Location, err = time.LoadLocation(tz); err != nil {
		return Settings{}, fmt.Errorf("CLINIC_TIMEZONE %q: %w", tz, err)
	}
	if s.MinLead, err = config.Duration("BOOKING_MIN_LEAD", 15*time.Minute); err != nil {
		return Settings{}, err
	}
	if s.MaxAdvance, err = config.Duration("BOOKING_MAX_ADVANCE", 180*24*time.Hour); err != nil {
		return Settings{}, err
	}
	if s.SlotStride, err = config.Duration("SLOT_STRIDE", 15*time.Minute); err != nil {
		return Settings{}, err
	}
	if s.SlotStride <= 0 {
		return Settings{}, fmt.Errorf("SLOT_STRIDE must be positive (got %s)", s.SlotStride)
	}
	s.HouseActorCode = strings.ToUpper(config.String("HOUSE_ACTOR_CODE", "SYSTEM"))

	s.AuthSecret = config.String("AUTH_HS256_SECRET", "")
	s.AuthJWKSURL = config.String("AUTH_JWKS_URL", "")
	if s.AuthRequired, err = config.Bool("AUTH_REQUIRED", false); err != nil {
		return Settings{}, err
	}
	if s.AuthRequired && s.AuthSecret == "" && s.AuthJWKSURL == "" {
		return Settings{}, fmt.Errorf("AUTH_REQUIRED needs AUTH_HS256_SECRET or AUTH_JWKS_URL")
	}

	s.EligibilityURL = config.String("ELIGIBILITY_URL", "")
	if s.EligibilityTimeout, err = config.Duration("ELIGIBILITY_TIMEOUT", 3*time.Second); err != nil {
		return Settings{}, err
	}
	if s.EligibilityFailures, err = config.Int("ELIGIBILITY_BREAKER_FAILURES", 5); err != nil {
		return Settings{}, err
	}
	if s.EligibilityCooldown, err = config.Duration("ELIGIBILITY_BREAKER_COOLDOWN", 30*time.Second); err != nil {
		return Settings{}, err
	}

	if s.NoShowSweepInterval, err = config.Duration("NO_SHOW_SWEEP_INTERVAL", 0); err != nil {
		return Settings{}, err
	}
	if s.NoShowGrace, err = config.Duration("NO_SHOW_GRACE", 30*time.Minute); err != nil {
		return Settings{}, err
	}
	if s.NoShowBatch, err = config.Int("NO_SHOW_BATCH_SIZE", 100); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// RequireDatabase is called by the commands that talk to Postgres.
func (s Settings) RequireDatabase() error {
	if s.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}
