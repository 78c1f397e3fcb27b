// Package notify delivers "job added" events to webhook destinations.
// Deliveries run in background in a size-limited group, each one retried with backoff.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/go-pkgz/syncs"

	"github.com/umputun/jobboard/app/registry"
)

//go:generate moq -out mocks/notifier.go -pkg mocks -skip-ensure -fmt goimports . Notifier

// Notifier sends text to a single destination
type Notifier interface {
	Send(ctx context.Context, destination, text string) error
}

// Repeater runs fun until it succeeds or attempts are exhausted
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// Params for the notification service
type Params struct {
	Webhooks    []string      // destination URLs, http or https
	Timeout     time.Duration // single delivery timeout
	Attempts    int           // delivery attempts per destination
	Backoff     time.Duration // initial delay between attempts
	Concurrency int           // max parallel deliveries
}

// Service sends job events to all configured destinations
type Service struct {
	notifier Notifier
	repeater Repeater
	webhooks []string
	timeout  time.Duration
	group    *syncs.SizedGroup
}

// New makes notification Service. Returns nil if no destinations configured.
func New(p Params) *Service {
	webhooks := make([]string, 0, len(p.Webhooks))
	for _, w := range p.Webhooks {
		if w = strings.TrimSpace(w); w != "" {
			webhooks = append(webhooks, w)
		}
	}
	if len(webhooks) == 0 {
		return nil
	}

	if p.Timeout <= 0 {
		p.Timeout = 5 * time.Second
	}
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Backoff <= 0 {
		p.Backoff = time.Second
	}
	if p.Concurrency <= 0 {
		p.Concurrency = 1
	}

	log.Printf("[INFO] webhook notifications enabled for %d destination(s)", len(webhooks))
	return &Service{
		notifier: notify.NewWebhook(notify.WebhookParams{
			Timeout: p.Timeout,
			Headers: []string{"Content-Type:application/json"},
		}),
		repeater: repeater.New(&strategy.Backoff{Repeats: p.Attempts, Duration: p.Backoff, Factor: 2, Jitter: true}),
		webhooks: webhooks,
		timeout:  p.Timeout,
		group:    syncs.NewSizedGroup(p.Concurrency),
	}
}

// OnJobAdded schedules delivery of the added job to all destinations and returns immediately.
// Safe to call on nil Service.
func (s *Service) OnJobAdded(job registry.Job) {
	if s == nil {
		return
	}
	text, err := s.makeMessage(job)
	if err != nil {
		log.Printf("[WARN] can't make notification for job %d, %v", job.ID(), err)
		return
	}
	for _, dest := range s.webhooks {
		s.group.Go(func(ctx context.Context) {
			if err := s.send(ctx, dest, text); err != nil {
				log.Printf("[WARN] failed to notify %s about job %d, %v", dest, job.ID(), err)
				return
			}
			log.Printf("[DEBUG] notified %s about job %d", dest, job.ID())
		})
	}
}

// Close waits for all in-flight deliveries. Safe to call on nil Service.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.group.Wait()
}

// send delivers text to a single destination with retries
func (s *Service) send(ctx context.Context, dest, text string) error {
	return s.repeater.Do(ctx, func() error {
		ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.notifier.Send(ctxTimeout, dest, text)
	})
}

// makeMessage builds json payload sent to destinations, the stored job record itself
func (s *Service) makeMessage(job registry.Job) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	return string(data), nil
}
