// Package email is the outbound notification façade. Messages are
// template-keyed; delivery goes through a pluggable Gateway wrapped in
// bounded exponential backoff. Callers run inside deferred rows, so a send
// that exhausts its backoff budget is retried by the queue on the next tick:
// delivery is at least once.
package email

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/plastr/extrasolar/internal/chrono"
	"github.com/plastr/extrasolar/internal/game"
	"github.com/plastr/extrasolar/internal/logging"
)

// Template keys for the outbound message kinds.
const (
	TemplateInvite         = "EMAIL_INVITE"
	TemplateMessageForward = "EMAIL_MESSAGE_FORWARD"
	TemplateActivityDigest = "EMAIL_ACTIVITY_DIGEST"
)

// Message is one outbound email before template rendering.
type Message struct {
	To          string
	From        string
	TemplateKey string
	Data        map[string]any
}

// Gateway performs the actual delivery (SMTP relay, provider API). Errors
// are treated as transient and retried.
type Gateway interface {
	Send(ctx context.Context, msg Message) error
}

// LogGateway records deliveries to the log instead of sending. Deployments
// without an SMTP relay configured run with it; the template data still
// reaches the operator.
type LogGateway struct {
	log logging.Logger
}

func NewLogGateway(log logging.Logger) *LogGateway {
	return &LogGateway{log: log}
}

func (g *LogGateway) Send(ctx context.Context, msg Message) error {
	g.log.Info(ctx, "email delivery (log gateway)",
		"to", msg.To, "from", msg.From, "template", msg.TemplateKey, "data", msg.Data)
	return nil
}

// Sender wraps a Gateway with retry and the deployment's sender address.
type Sender struct {
	log     logging.Logger
	gateway Gateway
	from    string

	maxRetries uint64
	baseDelay  time.Duration
}

func NewSender(log logging.Logger, gateway Gateway, from string) *Sender {
	return &Sender{
		log:        log,
		gateway:    gateway,
		from:       from,
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
	}
}

// Send delivers one templated message, retrying gateway failures with
// exponential backoff. The error after an exhausted budget propagates so the
// surrounding deferred row stays queued.
func (s *Sender) Send(ctx context.Context, to, templateKey string, data map[string]any) error {
	msg := Message{To: to, From: s.from, TemplateKey: templateKey, Data: data}
	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.baseDelay))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := s.gateway.Send(ctx, msg); err != nil {
			s.log.Warn(ctx, "email send failed",
				"to", to, "template", templateKey, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("email %s to %s: %w", templateKey, to, err)
	}
	s.log.Info(ctx, "email sent", "to", to, "template", templateKey, "attempts", attempt)
	return nil
}

// SendActivityDigest implements game.DigestSender.
func (s *Sender) SendActivityDigest(ctx context.Context, to string, digest game.Digest) error {
	return s.Send(ctx, to, TemplateActivityDigest, map[string]any{
		"unread_messages":  digest.UnreadMessages,
		"unviewed_targets": digest.UnviewedTargets,
		"unviewed_species": digest.UnviewedSpecies,
		"earliest_unread":  chrono.FormatUsec(digest.EarliestUnread),
	})
}

// SendDeferred delivers the email described by a deferred EMAIL row payload.
// The recipient rides in the payload; the subtype picks the template. An
// unknown subtype is consumed with a warning so it cannot poison the queue.
func (s *Sender) SendDeferred(ctx context.Context, subtype string, payload map[string]any) error {
	to, _ := payload["recipient"].(string)
	if to == "" {
		s.log.Warn(ctx, "email row without recipient, dropping", "subtype", subtype)
		return nil
	}
	switch subtype {
	case TemplateInvite, TemplateMessageForward:
		return s.Send(ctx, to, subtype, payload)
	default:
		s.log.Warn(ctx, "email row with unknown subtype, dropping",
			"subtype", subtype, "to", to)
		return nil
	}
}
