package email

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/plastr/extrasolar/internal/game"
	"github.com/plastr/extrasolar/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type fakeGateway struct {
	failures int
	sent     []Message
}

func (g *fakeGateway) Send(ctx context.Context, msg Message) error {
	if g.failures > 0 {
		g.failures--
		return errors.New("relay unavailable")
	}
	g.sent = append(g.sent, msg)
	return nil
}

func newTestSender(gw *fakeGateway) *Sender {
	s := NewSender(testLogger(), gw, "mission-control@example.com")
	s.baseDelay = time.Microsecond
	return s
}

func TestSend_RetriesTransientFailures(t *testing.T) {
	gw := &fakeGateway{failures: 2}
	s := newTestSender(gw)

	err := s.Send(context.Background(), "kai@example.com", TemplateInvite,
		map[string]any{"invite_id": "inv1"})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(gw.sent) != 1 {
		t.Fatalf("delivered = %d, want 1", len(gw.sent))
	}
	msg := gw.sent[0]
	if msg.To != "kai@example.com" || msg.From != "mission-control@example.com" {
		t.Errorf("addressing = %+v", msg)
	}
	if msg.TemplateKey != TemplateInvite || msg.Data["invite_id"] != "inv1" {
		t.Errorf("template = %+v", msg)
	}
}

func TestSend_ExhaustedBudgetPropagates(t *testing.T) {
	gw := &fakeGateway{failures: 100}
	s := newTestSender(gw)

	err := s.Send(context.Background(), "kai@example.com", TemplateInvite, nil)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if len(gw.sent) != 0 {
		t.Errorf("delivered = %d, want 0", len(gw.sent))
	}
}

func TestSendActivityDigest(t *testing.T) {
	gw := &fakeGateway{}
	s := newTestSender(gw)

	earliest := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	err := s.SendActivityDigest(context.Background(), "kai@example.com", game.Digest{
		UnreadMessages:  2,
		UnviewedTargets: 1,
		EarliestUnread:  earliest,
	})
	if err != nil {
		t.Fatalf("SendActivityDigest error: %v", err)
	}
	if len(gw.sent) != 1 {
		t.Fatalf("delivered = %d, want 1", len(gw.sent))
	}
	msg := gw.sent[0]
	if msg.TemplateKey != TemplateActivityDigest {
		t.Errorf("template = %s", msg.TemplateKey)
	}
	if msg.Data["unread_messages"] != 2 || msg.Data["earliest_unread"] != "1773489600000000" {
		t.Errorf("digest data = %v", msg.Data)
	}
}

func TestSendDeferred(t *testing.T) {
	gw := &fakeGateway{}
	s := newTestSender(gw)
	ctx := context.Background()

	err := s.SendDeferred(ctx, TemplateMessageForward,
		map[string]any{"recipient": "friend@example.com", "msg_type": "MSG_FIRST_PHOTO"})
	if err != nil {
		t.Fatalf("SendDeferred error: %v", err)
	}
	if len(gw.sent) != 1 || gw.sent[0].To != "friend@example.com" {
		t.Fatalf("delivered = %+v", gw.sent)
	}

	// unknown subtype and missing recipient are consumed, not retried
	if err := s.SendDeferred(ctx, "EMAIL_MYSTERY", map[string]any{"recipient": "x@example.com"}); err != nil {
		t.Errorf("unknown subtype = %v, want nil", err)
	}
	if err := s.SendDeferred(ctx, TemplateInvite, map[string]any{}); err != nil {
		t.Errorf("missing recipient = %v, want nil", err)
	}
	if len(gw.sent) != 1 {
		t.Errorf("dropped rows were delivered: %d", len(gw.sent))
	}
}
