package game

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/deferred"
	"github.com/plastr/extrasolar/internal/shared"
	"github.com/plastr/extrasolar/internal/tree"
)

// Message wraps a message model. Subject, sender, and style are evaluated
// from the catalogue at construction; only per-user state persists.
type Message struct {
	*tree.Model
}

func (m *Message) MessageID() string { return m.Str("message_id") }
func (m *Message) MsgType() string   { return m.Str("msg_type") }
func (m *Message) Locked() bool      { return m.Bool("locked") }

// SendMessage delivers a message type to the user. At most one message per
// (user, msg_type): a duplicate send logs a warning and returns nil with no
// chip.
func (s *Service) SendMessage(ctx context.Context, tx dbx.DBTX, u *User, msgType string) (*Message, error) {
	def, ok := s.cat.Messages[msgType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown message type %q", shared.ErrorBadRequest, msgType)
	}

	existing, err := s.messageByType(ctx, u, msgType)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.log.Warn(ctx, "message already sent, skipping", "user_id", u.UserID, "msg_type", msgType)
		return nil, nil
	}

	nowSecs, err := u.NowSeconds()
	if err != nil {
		return nil, err
	}
	m := tree.NewModel(messageSpec, u.Session(), "")
	_ = m.SetSilent("message_id", uuid.NewString())
	_ = m.SetSilent("msg_type", msgType)
	_ = m.SetSilent("sent_at", nowSecs)
	_ = m.SetSilent("locked", def.Locked)
	_ = m.SetSilent("needs_password", def.NeedsPassword)
	_ = m.SetSilent("subject", def.Subject)
	_ = m.SetSilent("sender", def.Sender)
	_ = m.SetSilent("style", string(def.Style))
	if err := u.Messages().Add(ctx, m); err != nil {
		return nil, err
	}

	msg := &Message{Model: m}
	if err := s.store.InsertMessage(ctx, tx, u.UserID, msg); err != nil {
		return nil, err
	}
	if err := s.reg.OnMessageSent(ctx, msgType, s, u, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ScheduleMessage enqueues delivery of a message type at now + delay.
func (s *Service) ScheduleMessage(ctx context.Context, tx dbx.DBTX, u *User, msgType string, delay time.Duration) error {
	queued, err := s.sched.IsQueuedForUser(ctx, tx, u.UserID, deferred.TypeMessage, msgType)
	if err != nil {
		return err
	}
	if queued {
		return nil
	}
	return s.sched.RunLater(ctx, tx, u.Session().Clock.Now(), u.UserID,
		deferred.TypeMessage, msgType, delay, nil)
}

// HandleMessageSend is the MESSAGE deferred handler. Idempotent on retry:
// a message already delivered is a warning inside SendMessage, not an error.
func (s *Service) HandleMessageSend(ctx context.Context, tx dbx.DBTX, row deferred.Row) error {
	u, err := s.LoadUser(ctx, tx, row.UserID)
	if err != nil {
		return err
	}
	if _, err := s.SendMessage(ctx, tx, u, row.Subtype); err != nil {
		return err
	}
	return s.flushChips(ctx, tx, u)
}

// ReadMessage marks the message read and returns it for body rendering.
// Idempotent.
func (s *Service) ReadMessage(ctx context.Context, tx dbx.DBTX, u *User, messageID string) (*Message, error) {
	m, err := u.Messages().Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	msg := &Message{Model: m}
	if msg.IsSet("read_at") {
		return msg, nil
	}
	nowSecs, err := u.NowSeconds()
	if err != nil {
		return nil, err
	}
	if err := msg.Set(ctx, "read_at", nowSecs); err != nil {
		return nil, err
	}
	if err := s.store.UpdateMessageRead(ctx, tx, u.UserID, messageID, nowSecs); err != nil {
		return nil, err
	}
	return msg, nil
}

// UnlockResult reports a password attempt.
type UnlockResult struct {
	WasUnlocked bool `json:"was_unlocked"`
}

// UnlockMessage checks a password against the message's derived key. The
// key is a deterministic non-secret hash of (msg_type, user_id), so story
// materials can print it per player.
func (s *Service) UnlockMessage(ctx context.Context, tx dbx.DBTX, u *User, messageID, password string) (*UnlockResult, error) {
	m, err := u.Messages().Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	msg := &Message{Model: m}
	if !msg.Locked() {
		return &UnlockResult{WasUnlocked: true}, nil
	}

	key, err := s.reg.UnlockKey(msg.MsgType(), u.UserID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(strings.TrimSpace(password), key) {
		return &UnlockResult{WasUnlocked: false}, nil
	}

	if err := msg.Set(ctx, "locked", false); err != nil {
		return nil, err
	}
	if err := s.store.UpdateMessageUnlocked(ctx, tx, u.UserID, messageID); err != nil {
		return nil, err
	}
	return &UnlockResult{WasUnlocked: true}, nil
}

// ForwardMessage emails a copy of the message to a recipient via the
// deferred queue, so gateway failures retry.
func (s *Service) ForwardMessage(ctx context.Context, tx dbx.DBTX, u *User, messageID, recipient string) error {
	m, err := u.Messages().Get(ctx, messageID)
	if err != nil {
		return err
	}
	msg := &Message{Model: m}
	if msg.Locked() {
		return fmt.Errorf("%w: message %s is locked", shared.ErrorBadRequest, messageID)
	}
	if !strings.Contains(recipient, "@") {
		return fmt.Errorf("%w: invalid recipient %q", shared.ErrorBadRequest, recipient)
	}
	return s.sched.RunLater(ctx, tx, u.Session().Clock.Now(), u.UserID,
		deferred.TypeEmail, "EMAIL_MESSAGE_FORWARD", 0,
		map[string]any{"recipient": recipient, "msg_type": msg.MsgType()})
}

func (s *Service) messageByType(ctx context.Context, u *User, msgType string) (*Message, error) {
	all, err := u.Messages().All(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range all {
		if m.Str("msg_type") == msgType {
			return &Message{Model: m}, nil
		}
	}
	return nil, nil
}
