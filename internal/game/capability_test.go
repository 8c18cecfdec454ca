package game

import (
	"context"
	"errors"
	"testing"

	"github.com/plastr/extrasolar/internal/shared"
)

func TestSeedCapabilities_AvailabilityPredicates(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t)

	cases := map[string]struct {
		available bool
		unlimited bool
	}{
		"CAP_S1_CAMERA":    {true, true},
		"CAP_S1_PANORAMA":  {true, false},
		"CAP_S1_INFRARED":  {true, false},
		"CAP_S1_FLASH":     {true, false},
		"CAP_S2_PANORAMA":  {false, false}, // needs a second rover
		"CAP_VCH_INFRARED": {false, false}, // needs the shutterbug voucher
	}
	for key, want := range cases {
		c := capabilityByKey(t, u, key)
		if c.Available() != want.available {
			t.Errorf("%s available = %v, want %v", key, c.Available(), want.available)
		}
		if c.Unlimited() != want.unlimited {
			t.Errorf("%s unlimited = %v, want %v", key, c.Unlimited(), want.unlimited)
		}
	}
}

func TestRefreshCapabilities_ChipsOnlyOnChange(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t)
	ctx := context.Background()

	if err := f.svc.RefreshCapabilities(ctx, f.tx, u); err != nil {
		t.Fatalf("RefreshCapabilities error: %v", err)
	}
	if n := u.Session().Buf.Len(); n != 0 {
		t.Errorf("no-op refresh emitted %d chips", n)
	}
	if len(f.tx.execs) != 0 {
		t.Errorf("no-op refresh wrote %d statements", len(f.tx.execs))
	}
}

func TestGrantVoucher_FlipsCapability(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t)
	ctx := context.Background()

	if err := f.svc.GrantVoucher(ctx, f.tx, u, "VCH_SHUTTERBUG"); err != nil {
		t.Fatalf("GrantVoucher error: %v", err)
	}

	if got := u.Str("current_voucher_level"); got != "VCH_SHUTTERBUG" {
		t.Errorf("current_voucher_level = %q", got)
	}
	c := capabilityByKey(t, u, "CAP_VCH_INFRARED")
	if !c.Available() || !c.Unlimited() {
		t.Errorf("CAP_VCH_INFRARED available=%v unlimited=%v after voucher", c.Available(), c.Unlimited())
	}

	// repeat grant is a no-op
	u.Session().Buf.Clear()
	if err := f.svc.GrantVoucher(ctx, f.tx, u, "VCH_SHUTTERBUG"); err != nil {
		t.Fatalf("repeat GrantVoucher error: %v", err)
	}
	if n := u.Session().Buf.Len(); n != 0 {
		t.Errorf("repeat grant emitted %d chips", n)
	}
}

func TestGrantVoucher_LowerLevelKeepsCurrent(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t)
	ctx := context.Background()

	if err := f.svc.GrantVoucher(ctx, f.tx, u, "VCH_PIONEER"); err != nil {
		t.Fatalf("GrantVoucher error: %v", err)
	}
	if err := f.svc.GrantVoucher(ctx, f.tx, u, "VCH_SHUTTERBUG"); err != nil {
		t.Fatalf("GrantVoucher error: %v", err)
	}
	if got := u.Str("current_voucher_level"); got != "VCH_PIONEER" {
		t.Errorf("current_voucher_level = %q, want VCH_PIONEER", got)
	}
}

func TestGrantVoucher_Unknown(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t)

	err := f.svc.GrantVoucher(context.Background(), f.tx, u, "VCH_NOPE")
	if !errors.Is(err, shared.ErrorBadRequest) {
		t.Fatalf("err = %v, want ErrorBadRequest", err)
	}
}

func TestFeatureProvider_SingleWinner(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t)
	ctx := context.Background()

	// at signup only CAP_S1_INFRARED is available for infrared
	provider, err := f.svc.FeatureProvider(ctx, u, FeatureInfrared)
	if err != nil {
		t.Fatalf("FeatureProvider error: %v", err)
	}
	if provider == nil || provider.Key() != "CAP_S1_INFRARED" {
		t.Fatalf("provider = %v, want CAP_S1_INFRARED", provider)
	}

	// force the second provider available to trip the invariant
	c := capabilityByKey(t, u, "CAP_VCH_INFRARED")
	_ = c.SetSilent("available", true)
	_, err = f.svc.FeatureProvider(ctx, u, FeatureInfrared)
	if !errors.Is(err, shared.ErrorInternal) {
		t.Fatalf("double provider err = %v, want ErrorInternal", err)
	}
}

func TestAddUses_ClampsAtZero(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t)
	ctx := context.Background()

	c := capabilityByKey(t, u, "CAP_S1_FLASH")
	if err := c.AddUses(ctx, -1); err != nil {
		t.Fatalf("AddUses error: %v", err)
	}
	if c.Uses() != 0 {
		t.Errorf("uses = %d, want 0 after negative clamp", c.Uses())
	}
}
