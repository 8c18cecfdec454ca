package game

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/plastr/extrasolar/internal/dbx"
	"github.com/plastr/extrasolar/internal/shared"
	"github.com/plastr/extrasolar/internal/tree"
)

// Shop is the user's store-front node: at most one per user, holding the
// purchased products and their invoices.
type Shop struct {
	*tree.Model
}

func (s *Shop) ShopID() string { return s.Str("shop_id") }

// Shop returns the store-front collection (zero or one member).
func (u *User) Shop() *tree.Collection { return u.Collection("shop") }

func (u *User) shop(ctx context.Context) (*Shop, error) {
	all, err := u.Shop().All(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	return &Shop{Model: all[0]}, nil
}

// EnableShop opens the user's store-front. Enabling an already open shop is
// a quiet no-op.
func (s *Service) EnableShop(ctx context.Context, tx dbx.DBTX, u *User) error {
	existing, err := u.shop(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	m := tree.NewModel(shopSpec, u.Session(), "")
	_ = m.SetSilent("shop_id", uuid.NewString())
	_ = m.SetSilent("enabled", true)
	if err := u.Shop().Add(ctx, m); err != nil {
		return err
	}
	return s.store.InsertShop(ctx, tx, u.UserID, &Shop{Model: m})
}

// RecordPurchase registers a completed payment for a catalogue product: the
// purchased-product and invoice nodes join the tree, and the product's
// voucher is granted, flipping any capabilities it carries. Purchasing a
// product the user already owns is a quiet no-op.
func (s *Service) RecordPurchase(ctx context.Context, tx dbx.DBTX, u *User, productKey string) error {
	def, ok := s.cat.Products[productKey]
	if !ok {
		return fmt.Errorf("%w: unknown product %q", shared.ErrorBadRequest, productKey)
	}
	shop, err := u.shop(ctx)
	if err != nil {
		return err
	}
	if shop == nil {
		return fmt.Errorf("%w: user %s has no shop", shared.ErrorImproperInvocation, u.UserID)
	}

	owned, err := shop.Collection("purchased_products").Has(ctx, productKey)
	if err != nil {
		return err
	}
	if owned {
		s.log.Warn(ctx, "product already purchased, skipping",
			"user_id", u.UserID, "product_key", productKey)
		return nil
	}

	nowSecs, err := u.NowSeconds()
	if err != nil {
		return err
	}

	product := tree.NewModel(purchasedProductSpec, u.Session(), "")
	_ = product.SetSilent("product_key", def.Key)
	_ = product.SetSilent("name", def.Name)
	_ = product.SetSilent("price_cents", def.PriceCents)
	_ = product.SetSilent("purchased_at", nowSecs)
	if err := shop.Collection("purchased_products").Add(ctx, product); err != nil {
		return err
	}
	if err := s.store.InsertPurchasedProduct(ctx, tx, u.UserID, shop.ShopID(), product); err != nil {
		return err
	}

	invoice := tree.NewModel(invoiceSpec, u.Session(), "")
	_ = invoice.SetSilent("invoice_id", uuid.NewString())
	_ = invoice.SetSilent("total_cents", def.PriceCents)
	_ = invoice.SetSilent("created_at", nowSecs)
	_ = invoice.SetSilent("product_keys", []string{def.Key})
	if err := shop.Collection("invoices").Add(ctx, invoice); err != nil {
		return err
	}
	if err := s.store.InsertInvoice(ctx, tx, u.UserID, shop.ShopID(), invoice); err != nil {
		return err
	}

	if def.VoucherKey == "" {
		return nil
	}
	return s.GrantVoucher(ctx, tx, u, def.VoucherKey)
}
