package messaging

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/giquina/clawd-bot/internal/config"
)

// DigestAdapter batches notifications per recipient and flushes them as a
// single email on FlushEvery, per spec.md §4.2's otherwise-unspecified
// digest delivery channel. ChatID is ignored for routing (digest recipients
// come entirely from config.To); it is kept only for interface symmetry
// and appears in the rendered body.
type DigestAdapter struct {
	cfg config.DigestConfig

	mu      sync.Mutex
	pending []Notification
}

func NewDigest(cfg config.DigestConfig) *DigestAdapter {
	return &DigestAdapter{cfg: cfg}
}

func (a *DigestAdapter) Platform() string { return "digest" }

// Send queues a notification; Critical notifications flush immediately
// rather than waiting for the next tick.
func (a *DigestAdapter) Send(ctx context.Context, n Notification) error {
	a.mu.Lock()
	a.pending = append(a.pending, n)
	critical := n.Critical
	a.mu.Unlock()

	if critical {
		return a.flush(ctx)
	}
	return nil
}

func (a *DigestAdapter) Start(ctx context.Context) error {
	interval := a.cfg.FlushEvery
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := a.flush(ctx); err != nil {
				return err
			}
		}
	}
}

func (a *DigestAdapter) flush(ctx context.Context) error {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var body strings.Builder
	fmt.Fprintf(&body, "%d notifications:\n\n", len(batch))
	for _, n := range batch {
		fmt.Fprintf(&body, "[%s] %s\n", n.ChatID, n.Text)
	}

	m := mail.NewMsg()
	if err := m.From(a.cfg.From); err != nil {
		return fmt.Errorf("digest: set from: %w", err)
	}
	if err := m.To(strings.Split(a.cfg.To, ",")...); err != nil {
		return fmt.Errorf("digest: set to: %w", err)
	}
	m.Subject(fmt.Sprintf("Digest: %d updates", len(batch)))
	m.SetBodyString(mail.TypeTextPlain, body.String())

	opts := []mail.Option{
		mail.WithPort(a.cfg.SMTPPort),
		mail.WithTimeout(30 * time.Second),
		mail.WithTLSConfig(&tls.Config{ServerName: a.cfg.SMTPHost}),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if a.cfg.SMTPUsername != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(a.cfg.SMTPUsername), mail.WithPassword(a.cfg.SMTPPassword))
	}

	client, err := mail.NewClient(a.cfg.SMTPHost, opts...)
	if err != nil {
		return fmt.Errorf("digest: create smtp client: %w", err)
	}

	if err := client.DialAndSend(m); err != nil {
		return fmt.Errorf("digest: send: %w", err)
	}
	return nil
}

func (a *DigestAdapter) Close() error { return nil }
