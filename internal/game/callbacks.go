package game

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/plastr/extrasolar/internal/callbacks"
)

// TargetParams is the payload of a target-creation request, handed to
// mission callbacks for veto.
type TargetParams struct {
	Lat          float64           `json:"lat"`
	Lng          float64           `json:"lng"`
	Yaw          float64           `json:"yaw"`
	Pitch        float64           `json:"pitch"`
	ArrivalDelta int64             `json:"arrival_delta"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Picture      bool              `json:"picture"`
}

// Callbacks wraps the registry with typed dispatch for the hooks domain
// operations consult. Story content registers subtype implementations
// against the base modules installed here.
type Callbacks struct {
	reg *callbacks.Registry
}

func NewCallbacks() *Callbacks {
	reg := callbacks.New()
	reg.RegisterModule(callbacks.ModuleMission, BaseMissionCallbacks{})
	reg.RegisterModule(callbacks.ModuleMessage, BaseMessageCallbacks{}, callbacks.NoOverride("UnlockKey"))
	reg.RegisterModule(callbacks.ModuleSpecies, BaseSpeciesCallbacks{})
	reg.RegisterModule(callbacks.ModuleProgress, BaseProgressCallbacks{})
	reg.RegisterModule(callbacks.ModuleAchievement, BaseAchievementCallbacks{})
	reg.RegisterModule(callbacks.ModuleTimer, BaseTimerCallbacks{})
	return &Callbacks{reg: reg}
}

// Registry exposes the raw registry for story-content registration.
func (c *Callbacks) Registry() *callbacks.Registry { return c.reg }

// ValidateNewTargetParams asks a not-done mission whether the proposed
// target is acceptable. A non-empty string is a veto message.
func (c *Callbacks) ValidateNewTargetParams(ctx context.Context, defKey string, u *User, m *Mission, p TargetParams) (string, error) {
	out, err := c.reg.Run(callbacks.ModuleMission, "ValidateNewTargetParams", defKey, ctx, u, m, p)
	if err != nil {
		return "", err
	}
	return out[0].(string), nil
}

// CanAbortTarget asks a not-done mission whether aborting the target is
// allowed.
func (c *Callbacks) CanAbortTarget(ctx context.Context, defKey string, u *User, t *Target) (bool, error) {
	out, err := c.reg.Run(callbacks.ModuleMission, "CanAbortTarget", defKey, ctx, u, t)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (c *Callbacks) OnTargetEnRoute(ctx context.Context, defKey string, svc *Service, u *User, t *Target) error {
	_, err := c.reg.Run(callbacks.ModuleMission, "OnTargetEnRoute", defKey, ctx, svc, u, t)
	return err
}

func (c *Callbacks) OnArrivedAtTarget(ctx context.Context, defKey string, svc *Service, u *User, t *Target) error {
	_, err := c.reg.Run(callbacks.ModuleMission, "OnArrivedAtTarget", defKey, ctx, svc, u, t)
	return err
}

func (c *Callbacks) OnMissionDone(ctx context.Context, defKey string, svc *Service, u *User, m *Mission) error {
	_, err := c.reg.Run(callbacks.ModuleMission, "OnMissionDone", defKey, ctx, svc, u, m)
	return err
}

func (c *Callbacks) OnMessageSent(ctx context.Context, msgType string, svc *Service, u *User, m *Message) error {
	_, err := c.reg.Run(callbacks.ModuleMessage, "OnSent", msgType, ctx, svc, u, m)
	return err
}

// UnlockKey derives a locked message's password. Deliberately not a secret:
// the key is printed in story materials the player finds.
func (c *Callbacks) UnlockKey(msgType, userID string) (string, error) {
	out, err := c.reg.Run(callbacks.ModuleMessage, "UnlockKey", msgType, msgType, userID)
	if err != nil {
		return "", err
	}
	return out[0].(string), nil
}

func (c *Callbacks) OnSpeciesIdentified(ctx context.Context, speciesKey string, svc *Service, u *User, sp *Species) error {
	_, err := c.reg.Run(callbacks.ModuleSpecies, "OnIdentified", speciesKey, ctx, svc, u, sp)
	return err
}

// ProgressRegions returns the regions a progress key contributes to the map.
func (c *Callbacks) ProgressRegions(key string) ([]string, error) {
	out, err := c.reg.Run(callbacks.ModuleProgress, "Regions", key, key)
	if err != nil {
		return nil, err
	}
	regions, _ := out[0].([]string)
	return regions, nil
}

// ArrivedAchievements runs every achievement hook for a target arrival.
func (c *Callbacks) ArrivedAchievements(ctx context.Context, svc *Service, u *User, t *Target) error {
	_, err := c.reg.RunAll(callbacks.ModuleAchievement, "OnArrivedAtTarget", ctx, svc, u, t)
	return err
}

// FireTimer dispatches a TIMER deferred row by its subtype tag.
func (c *Callbacks) FireTimer(ctx context.Context, tag string, svc *Service, u *User, payload map[string]any) error {
	_, err := c.reg.Run(callbacks.ModuleTimer, "Fire", tag, ctx, svc, u, tag, payload)
	return err
}

// BaseMissionCallbacks is the default mission behavior: no veto, no lock,
// no reaction.
type BaseMissionCallbacks struct{}

func (BaseMissionCallbacks) ValidateNewTargetParams(ctx context.Context, u *User, m *Mission, p TargetParams) string {
	return ""
}

func (BaseMissionCallbacks) CanAbortTarget(ctx context.Context, u *User, t *Target) bool {
	return true
}

func (BaseMissionCallbacks) OnTargetEnRoute(ctx context.Context, svc *Service, u *User, t *Target) error {
	return nil
}

func (BaseMissionCallbacks) OnArrivedAtTarget(ctx context.Context, svc *Service, u *User, t *Target) error {
	return nil
}

func (BaseMissionCallbacks) OnMissionDone(ctx context.Context, svc *Service, u *User, m *Mission) error {
	return nil
}

// BaseMessageCallbacks derives unlock keys and ignores sends.
type BaseMessageCallbacks struct{}

// UnlockKey hashes (msg_type, user_id) into an eight character key.
func (BaseMessageCallbacks) UnlockKey(msgType, userID string) string {
	sum := sha256.Sum256([]byte(msgType + ":" + userID))
	return hex.EncodeToString(sum[:])[:8]
}

func (BaseMessageCallbacks) OnSent(ctx context.Context, svc *Service, u *User, m *Message) error {
	return nil
}

type BaseSpeciesCallbacks struct{}

func (BaseSpeciesCallbacks) OnIdentified(ctx context.Context, svc *Service, u *User, sp *Species) error {
	return nil
}

type BaseProgressCallbacks struct{}

func (BaseProgressCallbacks) Regions(key string) []string { return nil }

type BaseAchievementCallbacks struct{}

type BaseTimerCallbacks struct{}

func (BaseTimerCallbacks) Fire(ctx context.Context, svc *Service, u *User, tag string, payload map[string]any) error {
	return nil
}
