package game

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/deferred"
	"github.com/plastr/extrasolar/internal/shared"
	"github.com/plastr/extrasolar/internal/tree"
)

// Invite wraps an invitation model. recipient_user_id is an unmanaged
// cross-tree reference filled in when the invitation is accepted.
type Invite struct {
	*tree.Model
}

func (inv *Invite) InviteID() string { return inv.Str("invite_id") }

// InviteRequest is the invite endpoint payload.
type InviteRequest struct {
	RecipientEmail     string `json:"recipient_email"`
	RecipientFirstName string `json:"recipient_first_name"`
	RecipientLastName  string `json:"recipient_last_name"`
	RecipientMessage   string `json:"recipient_message"`
}

// SendInvite consumes one of the user's invites and schedules the invitation
// email through the deferred queue.
func (s *Service) SendInvite(ctx context.Context, tx dbx.DBTX, u *User, req InviteRequest) (*Invite, error) {
	if !strings.Contains(req.RecipientEmail, "@") {
		return nil, fmt.Errorf("%w: invalid email %q", shared.ErrorBadRequest, req.RecipientEmail)
	}
	left := u.Int("invites_left")
	if left <= 0 {
		return nil, fmt.Errorf("%w: no invites left", shared.ErrorBadRequest)
	}

	nowSecs, err := u.NowSeconds()
	if err != nil {
		return nil, err
	}
	m := tree.NewModel(inviteSpec, u.Session(), "")
	_ = m.SetSilent("invite_id", uuid.NewString())
	_ = m.SetSilent("recipient_email", req.RecipientEmail)
	_ = m.SetSilent("recipient_first_name", req.RecipientFirstName)
	_ = m.SetSilent("recipient_last_name", req.RecipientLastName)
	_ = m.SetSilent("recipient_message", req.RecipientMessage)
	_ = m.SetSilent("sent_at", nowSecs)
	if err := u.Invitations().Add(ctx, m); err != nil {
		return nil, err
	}
	inv := &Invite{Model: m}
	if err := s.store.InsertInvite(ctx, tx, u.UserID, inv); err != nil {
		return nil, err
	}

	if err := u.Set(ctx, "invites_left", left-1); err != nil {
		return nil, err
	}
	if err := s.store.UpdateUserInvitesLeft(ctx, tx, u.UserID, left-1); err != nil {
		return nil, err
	}

	err = s.sched.RunLater(ctx, tx, u.Session().Clock.Now(), u.UserID,
		deferred.TypeEmail, "EMAIL_INVITE", 0,
		map[string]any{"invite_id": inv.InviteID(), "recipient": req.RecipientEmail})
	if err != nil {
		return nil, err
	}
	return inv, nil
}
