// Package eligibility calls the clinical rules service that decides whether a
// patient may receive a set of services on a date.
package eligibility

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Noop accepts everything. Used when no rules service is configured.
type Noop struct{}

func (Noop) Validate(context.Context, string, []string, time.Time) error { return nil }

type Config struct {
	BaseURL string
	Timeout time.Duration
	// Failures is how many consecutive failures open the breaker.
	Failures uint32
	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration
}

// Client is an HTTP client behind a circuit breaker. Rule violations are
// answers, not failures, so they never trip the breaker.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
}

type validateRequest struct {
	PatientID  string   `json:"patient_id"`
	ServiceIDs []string `json:"service_ids"`
	Date       string   `json:"date"`
}

type violation struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	failures := cfg.Failures
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:    "clinical-eligibility",
			Timeout: cfg.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || apperr.KindOf(err) == apperr.KindPrecondition
			},
		}),
	}
}

// Validate returns an apperr precondition error when the rules service
// rejects the request, and a plain error when it cannot be reached.
func (c *Client) Validate(ctx context.Context, patientID string, serviceIDs []string, day time.Time) error {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.call(ctx, patientID, serviceIDs, day)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("eligibility service unavailable: %w", err)
	}
	return err
}

func (c *Client) call(ctx context.Context, patientID string, serviceIDs []string, day time.Time) error {
	body, err := json.Marshal(validateRequest{
		PatientID:  patientID,
		ServiceIDs: serviceIDs,
		Date:       day.Format("2006-01-02"),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/eligibility/validate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("eligibility request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		var v violation
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&v)
		msg := v.Message
		if msg == "" {
			msg = "patient is not eligible for the requested services"
		}
		e := apperr.Precondition(apperr.ReasonIneligible, "%s", msg)
		if v.Reason != "" {
			e.Message = v.Reason + ": " + msg
		}
		return e
	default:
		return fmt.Errorf("eligibility service returned %d", resp.StatusCode)
	}
}
