package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pitabwire/frame/workerpool"
	"github.com/sony/gobreaker/v2"

	"github.com/spiralogic/oraclevoice/pkg/events"
	"github.com/spiralogic/oraclevoice/pkg/urlvalidation"
)

const maxBreakers = 10000

// Headers set on every delivery.
const (
	EventHeader    = "X-Oraclevoice-Event"
	DeliveryHeader = "X-Oraclevoice-Delivery"
	JobHeader      = "X-Oraclevoice-Job"
)

// DelivererConfig holds delivery-related settings.
type DelivererConfig struct {
	MaxRetries      int
	Timeout         time.Duration
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	CBFailThreshold int
	CBResetTimeout  time.Duration
}

func (c DelivererConfig) withDefaults() DelivererConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = time.Second
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = c.BackoffInitial
	}
	if c.CBFailThreshold <= 0 {
		c.CBFailThreshold = 5
	}
	if c.CBResetTimeout <= 0 {
		c.CBResetTimeout = time.Minute
	}
	return c
}

// Deliverer posts signed event envelopes to webhook endpoints.
type Deliverer struct {
	log          DeliveryLog
	httpClient   *http.Client
	config       DelivererConfig
	pool         workerpool.WorkerPool
	validateOpts []urlvalidation.Option

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[int]
}

// NewDeliverer creates a new webhook deliverer. log may be nil.
func NewDeliverer(log DeliveryLog, cfg DelivererConfig, pool workerpool.WorkerPool, validateOpts ...urlvalidation.Option) *Deliverer {
	cfg = cfg.withDefaults()
	return &Deliverer{
		log: log,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		config:       cfg,
		pool:         pool,
		validateOpts: validateOpts,
		breakers:     make(map[string]*gobreaker.CircuitBreaker[int]),
	}
}

func (d *Deliverer) breaker(ctx context.Context, webhookID string) *gobreaker.CircuitBreaker[int] {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cb, ok := d.breakers[webhookID]; ok {
		return cb
	}
	if len(d.breakers) >= maxBreakers {
		for k := range d.breakers {
			delete(d.breakers, k)
			break
		}
	}

	threshold := uint32(d.config.CBFailThreshold)
	cb := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        webhookID,
		MaxRequests: 1,
		Timeout:     d.config.CBResetTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.WarnContext(ctx, "webhook circuit changed",
				slog.String("webhook_id", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			failures := 0
			if to != gobreaker.StateClosed {
				failures = int(threshold)
			}
			if d.log != nil {
				if err := d.log.UpdateCircuit(context.WithoutCancel(ctx), name, to.String(), failures); err != nil {
					slog.ErrorContext(ctx, "update circuit state failed", slog.String("error", err.Error()))
				}
			}
		},
	})
	d.breakers[webhookID] = cb
	return cb
}

// CircuitState reports the breaker state for a webhook, "closed" when none
// exists yet.
func (d *Deliverer) CircuitState(webhookID string) string {
	d.mu.Lock()
	cb, ok := d.breakers[webhookID]
	d.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}

// Deliver attempts to POST an event envelope to a webhook endpoint, retrying
// with exponential backoff and dead-lettering once retries are exhausted.
func (d *Deliverer) Deliver(ctx context.Context, wh WebhookEndpoint, env events.Envelope) {
	d.deliverWithRetry(ctx, wh, env, 1)
}

func (d *Deliverer) deliverWithRetry(ctx context.Context, wh WebhookEndpoint, env events.Envelope, attempt int) {
	if err := urlvalidation.ValidateWebhookURL(wh.URL, d.validateOpts...); err != nil {
		slog.ErrorContext(ctx, "webhook URL failed SSRF validation",
			slog.String("webhook_id", wh.ID),
			slog.String("url", wh.URL),
			slog.String("error", err.Error()))
		d.record(ctx, &DeliveryAttempt{
			WebhookID:     wh.ID,
			EventID:       env.ID,
			EventType:     string(env.Type),
			JobID:         env.JobID,
			AttemptNumber: attempt,
			Status:        DeliverySkipped,
			Error:         err.Error(),
		})
		return
	}

	body, err := json.Marshal(env)
	if err != nil {
		d.handleFailure(ctx, wh, env, attempt, fmt.Sprintf("marshal: %v", err))
		return
	}

	da := &DeliveryAttempt{
		WebhookID:     wh.ID,
		EventID:       env.ID,
		EventType:     string(env.Type),
		JobID:         env.JobID,
		RequestBody:   string(body),
		AttemptNumber: attempt,
	}

	start := time.Now()
	_, err = d.breaker(ctx, wh.ID).Execute(func() (int, error) {
		return d.post(ctx, wh, env, body, da)
	})
	da.DurationMs = time.Since(start).Milliseconds()

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		d.handleFailure(ctx, wh, env, attempt, "circuit open")
		return
	}
	if err != nil {
		da.Status = DeliveryFailed
		da.Error = err.Error()
		d.record(ctx, da)
		d.handleFailure(ctx, wh, env, attempt, da.Error)
		return
	}

	da.Status = DeliverySuccess
	d.record(ctx, da)
}

func (d *Deliverer) post(ctx context.Context, wh WebhookEndpoint, env events.Envelope, body []byte, da *DeliveryAttempt) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	ts := time.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TimestampHeader, strconv.FormatInt(ts, 10))
	req.Header.Set(SignatureHeader, Sign(wh.Secret, ts, body))
	req.Header.Set(EventHeader, string(env.Type))
	req.Header.Set(DeliveryHeader, env.ID)
	if env.JobID != "" {
		req.Header.Set(JobHeader, env.JobID)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	// Drain remainder for connection reuse.
	io.Copy(io.Discard, resp.Body)

	da.ResponseCode = resp.StatusCode
	da.ResponseBody = string(respBody)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (d *Deliverer) record(ctx context.Context, da *DeliveryAttempt) {
	if d.log == nil {
		return
	}
	if err := d.log.RecordDelivery(ctx, da); err != nil {
		slog.ErrorContext(ctx, "record delivery failed", slog.String("error", err.Error()))
	}
}

func (d *Deliverer) backoff(attempt int) time.Duration {
	b := d.config.BackoffInitial << (attempt - 1)
	if b <= 0 || b > d.config.BackoffMax {
		b = d.config.BackoffMax
	}
	return b
}

func (d *Deliverer) handleFailure(ctx context.Context, wh WebhookEndpoint, env events.Envelope, attempt int, errMsg string) {
	if attempt >= d.config.MaxRetries {
		slog.WarnContext(ctx, "webhook delivery dead-lettered",
			slog.String("webhook_id", wh.ID),
			slog.String("event_id", env.ID),
			slog.Int("attempts", attempt),
			slog.String("error", errMsg))
		if d.log == nil {
			return
		}
		payload, _ := json.Marshal(env)
		if err := d.log.CreateDeadLetter(ctx, &DeadLetter{
			WebhookID:  wh.ID,
			EventID:    env.ID,
			EventType:  string(env.Type),
			JobID:      env.JobID,
			Payload:    string(payload),
			LastError:  errMsg,
			Attempts:   attempt,
			Replayable: true,
		}); err != nil {
			slog.ErrorContext(ctx, "create dead letter failed", slog.String("error", err.Error()))
		}
		return
	}

	wait := d.backoff(attempt)
	retryFunc := func() {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.deliverWithRetry(ctx, wh, env, attempt+1)
		}
	}

	if d.pool != nil {
		if err := d.pool.Submit(ctx, retryFunc); err != nil {
			slog.WarnContext(ctx, "retry pool full, dropping retry",
				slog.String("webhook_id", wh.ID),
				slog.Int("attempt", attempt))
		}
		return
	}
	go retryFunc()
}
