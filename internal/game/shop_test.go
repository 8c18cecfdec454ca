package game

import (
	"context"
	"errors"
	"testing"

	"github.com/plastr/extrasolar/internal/shared"
)

func TestEnableShop_Idempotent(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t)
	ctx := context.Background()

	if err := f.svc.EnableShop(ctx, f.tx, u); err != nil {
		t.Fatalf("EnableShop error: %v", err)
	}
	if n, _ := u.Shop().Len(ctx); n != 1 {
		t.Fatalf("shop nodes = %d, want 1", n)
	}
	if u.Session().Buf.Len() != 1 {
		t.Errorf("chips = %d, want 1 ADD", u.Session().Buf.Len())
	}

	u.Session().Buf.Clear()
	if err := f.svc.EnableShop(ctx, f.tx, u); err != nil {
		t.Fatalf("second EnableShop error: %v", err)
	}
	if n, _ := u.Shop().Len(ctx); n != 1 {
		t.Errorf("second enable added a shop node")
	}
	if u.Session().Buf.Len() != 0 {
		t.Errorf("second enable emitted chips")
	}
}

func TestRecordPurchase_GrantsVoucher(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t)
	ctx := context.Background()

	if err := f.svc.EnableShop(ctx, f.tx, u); err != nil {
		t.Fatalf("EnableShop error: %v", err)
	}
	if err := f.svc.RecordPurchase(ctx, f.tx, u, "PRD_SHUTTERBUG_UPGRADE"); err != nil {
		t.Fatalf("RecordPurchase error: %v", err)
	}

	shop, err := u.shop(ctx)
	if err != nil || shop == nil {
		t.Fatalf("shop lookup: %v", err)
	}
	product, err := shop.Collection("purchased_products").Get(ctx, "PRD_SHUTTERBUG_UPGRADE")
	if err != nil {
		t.Fatalf("purchased product missing: %v", err)
	}
	if product.Int("price_cents") != 499 {
		t.Errorf("price_cents = %d", product.Int("price_cents"))
	}
	if n, _ := shop.Collection("invoices").Len(ctx); n != 1 {
		t.Errorf("invoices = %d, want 1", n)
	}

	if got := u.Str("current_voucher_level"); got != "VCH_SHUTTERBUG" {
		t.Errorf("voucher level = %q", got)
	}
	ir := capabilityByKey(t, u, "CAP_VCH_INFRARED")
	if !ir.Available() || !ir.Unlimited() {
		t.Error("voucher capability did not flip on purchase")
	}
}

func TestRecordPurchase_DuplicateSkipped(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t)
	ctx := context.Background()

	if err := f.svc.EnableShop(ctx, f.tx, u); err != nil {
		t.Fatalf("EnableShop error: %v", err)
	}
	if err := f.svc.RecordPurchase(ctx, f.tx, u, "PRD_PIONEER_PACKAGE"); err != nil {
		t.Fatalf("RecordPurchase error: %v", err)
	}

	u.Session().Buf.Clear()
	if err := f.svc.RecordPurchase(ctx, f.tx, u, "PRD_PIONEER_PACKAGE"); err != nil {
		t.Fatalf("repeat RecordPurchase error: %v", err)
	}
	if u.Session().Buf.Len() != 0 {
		t.Errorf("repeat purchase emitted %d chips", u.Session().Buf.Len())
	}
	shop, _ := u.shop(ctx)
	if n, _ := shop.Collection("invoices").Len(ctx); n != 1 {
		t.Errorf("repeat purchase invoiced again")
	}
}

func TestRecordPurchase_Rejections(t *testing.T) {
	f := newFixture(t)
	u := f.newUser(t)
	ctx := context.Background()

	err := f.svc.RecordPurchase(ctx, f.tx, u, "PRD_SHUTTERBUG_UPGRADE")
	if !errors.Is(err, shared.ErrorImproperInvocation) {
		t.Errorf("purchase without shop = %v, want ErrorImproperInvocation", err)
	}

	if err := f.svc.EnableShop(ctx, f.tx, u); err != nil {
		t.Fatalf("EnableShop error: %v", err)
	}
	err = f.svc.RecordPurchase(ctx, f.tx, u, "PRD_MOON_BASE")
	if !errors.Is(err, shared.ErrorBadRequest) {
		t.Errorf("unknown product = %v, want ErrorBadRequest", err)
	}
}
