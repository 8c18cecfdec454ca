package game

import (
	"context"
	"fmt"

	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/shared"
	"github.com/plastr/extrasolar/internal/tree"
)

// Capability wraps a capability model: a unit granting rover features with
// a quota or unlimited use.
type Capability struct {
	*tree.Model
}

func (c *Capability) Key() string     { return c.Str("capability_key") }
func (c *Capability) Uses() int64     { return c.Int("uses") }
func (c *Capability) FreeUses() int64 { return c.Int("free_uses") }
func (c *Capability) Unlimited() bool { return c.Bool("unlimited") }
func (c *Capability) Available() bool { return c.Bool("available") }

// CanUse reports whether the capability has quota left.
func (c *Capability) CanUse() bool {
	return c.Available() && (c.Unlimited() || c.Uses() < c.FreeUses())
}

// AddUses charges or refunds quota, emitting a MOD chip.
func (c *Capability) AddUses(ctx context.Context, delta int64) error {
	uses := c.Uses() + delta
	if uses < 0 {
		uses = 0
	}
	return c.Set(ctx, "uses", uses)
}

// FeatureProvider returns the single available capability providing the
// feature, nil when none is available, and an invariant error when two claim
// it at once.
func (s *Service) FeatureProvider(ctx context.Context, u *User, feature string) (*Capability, error) {
	all, err := u.Capabilities().All(ctx)
	if err != nil {
		return nil, err
	}
	var provider *Capability
	for _, m := range all {
		c := &Capability{Model: m}
		if !c.Available() || !s.providesFeature(c.Key(), feature) {
			continue
		}
		if provider != nil {
			return nil, fmt.Errorf("%w: capabilities %s and %s both provide feature %q",
				shared.ErrorInternal, provider.Key(), c.Key(), feature)
		}
		provider = c
	}
	return provider, nil
}

func (s *Service) providesFeature(capabilityKey, feature string) bool {
	def, ok := s.cat.Capabilities[capabilityKey]
	if !ok {
		return false
	}
	for _, f := range def.RoverFeatures {
		if f == feature {
			return true
		}
	}
	return false
}

// CanUseFeature reports whether exactly one available provider exists with
// quota remaining.
func (s *Service) CanUseFeature(ctx context.Context, u *User, feature string) (bool, error) {
	provider, err := s.FeatureProvider(ctx, u, feature)
	if err != nil {
		return false, err
	}
	return provider != nil && provider.CanUse(), nil
}

// RefreshCapabilities recomputes every capability's available and unlimited
// flags from the catalogue predicates against the user's current rover count
// and voucher level, emitting chips only on change. Call after any state
// change that could flip availability.
func (s *Service) RefreshCapabilities(ctx context.Context, tx dbx.DBTX, u *User) error {
	roverCount, err := u.Rovers().Len(ctx)
	if err != nil {
		return err
	}
	voucherLevel := s.voucherLevel(u.Str("current_voucher_level"))

	all, err := u.Capabilities().All(ctx)
	if err != nil {
		return err
	}
	for _, m := range all {
		c := &Capability{Model: m}
		def, ok := s.cat.Capabilities[c.Key()]
		if !ok {
			continue
		}
		available := roverCount >= def.MinRovers && voucherLevel >= s.voucherLevel(def.MinVoucherLevel)
		unlimited := def.AlwaysUnlimited
		if available == c.Available() && unlimited == c.Unlimited() {
			continue
		}
		if err := c.Set(ctx, "available", available); err != nil {
			return err
		}
		if err := c.Set(ctx, "unlimited", unlimited); err != nil {
			return err
		}
		if err := s.store.UpdateCapabilityAvailability(ctx, tx, u.UserID, c.Key(), available, unlimited); err != nil {
			return err
		}
	}
	return nil
}

// decorateCapabilities fills the catalogue-derived rover_features list on
// loaded capability models. The list is content, not state, so it is never
// persisted per user.
func (s *Service) decorateCapabilities(ctx context.Context, u *User) error {
	all, err := u.Capabilities().All(ctx)
	if err != nil {
		return err
	}
	for _, m := range all {
		if def, ok := s.cat.Capabilities[m.Str("capability_key")]; ok {
			if err := m.SetSilent("rover_features", def.RoverFeatures); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) voucherLevel(key string) int {
	if key == "" {
		return 0
	}
	if def, ok := s.cat.Vouchers[key]; ok {
		return def.Level
	}
	return 0
}

// GrantVoucher delivers an entitlement and refreshes capability
// availability, which may flip quota-limited features to unlimited.
func (s *Service) GrantVoucher(ctx context.Context, tx dbx.DBTX, u *User, voucherKey string) error {
	def, ok := s.cat.Vouchers[voucherKey]
	if !ok {
		return fmt.Errorf("%w: unknown voucher %q", shared.ErrorBadRequest, voucherKey)
	}
	has, err := u.Vouchers().Has(ctx, voucherKey)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	nowSecs, err := u.NowSeconds()
	if err != nil {
		return err
	}
	m := tree.NewModel(voucherSpec, u.Session(), "")
	_ = m.SetSilent("voucher_key", def.Key)
	_ = m.SetSilent("level", int64(def.Level))
	_ = m.SetSilent("name", def.Name)
	_ = m.SetSilent("delivered_at", nowSecs)
	if err := u.Vouchers().Add(ctx, m); err != nil {
		return err
	}
	if err := s.store.InsertVoucher(ctx, tx, u.UserID, def.Key, nowSecs); err != nil {
		return err
	}

	if s.voucherLevel(voucherKey) > s.voucherLevel(u.Str("current_voucher_level")) {
		if err := u.Set(ctx, "current_voucher_level", voucherKey); err != nil {
			return err
		}
		if err := s.store.UpdateUserVoucherLevel(ctx, tx, u.UserID, voucherKey); err != nil {
			return err
		}
	}
	return s.RefreshCapabilities(ctx, tx, u)
}
