package game

import (
	"github.com/plastr/extrasolar/internal/chrono"
	"github.com/plastr/extrasolar/internal/tree"
)

// Tree specs for every model type. Field sets are frozen here; assignment to
// anything else fails at the tree layer.

var userSpec = &tree.Spec{
	Name: "user",
	Fields: []string{
		"user_id", "email", "first_name", "last_name",
		"epoch", "invites_left", "current_voucher_level",
		"activity_alert_frequency", "activity_window_start", "activity_last_sent_at",
		"valid", "auth",
	},
	Collections: []string{
		"rovers", "messages", "missions", "achievements", "species",
		"regions", "capabilities", "vouchers", "map_tiles", "progress",
		"invitations", "gifts", "shop",
	},
	ServerOnly:   []string{"auth", "activity_window_start", "activity_last_sent_at"},
	ShallowChips: true,
	Computed: map[string]tree.ComputedFunc{
		"epoch_str": func(m *tree.Model) any {
			return chrono.FormatUsec(chrono.TimeFromUsec(m.Int("epoch")))
		},
	},
}

var roverSpec = &tree.Spec{
	Name:    "rover",
	IDField: "rover_id",
	Fields: []string{
		"rover_id", "rover_key", "chassis", "activated_at", "active",
		"lander_lat", "lander_lng",
		"max_unarrived_targets", "min_target_seconds", "max_target_seconds",
		"max_travel_distance",
	},
	Collections: []string{"targets"},
}

var targetSpec = &tree.Spec{
	Name:    "target",
	IDField: "target_id",
	Fields: []string{
		"target_id", "seq", "lat", "lng", "yaw", "pitch",
		"start_time", "arrival_time",
		"picture", "processed", "classified", "highlighted",
		"viewed_at", "metadata", "images", "sounds",
		"render_at",
	},
	Collections: []string{"image_rects"},
	ServerOnly:  []string{"render_at"},
}

var imageRectSpec = &tree.Spec{
	Name:    "image_rect",
	IDField: "seq",
	Fields: []string{
		"seq", "xmin", "ymin", "xmax", "ymax",
		"species_id", "subspecies_id", "density",
	},
}

var missionSpec = &tree.Spec{
	Name:    "mission",
	IDField: "mission_id",
	Fields: []string{
		"mission_id", "mission_definition", "specifics", "specifics_hash",
		"parent_hash", "title", "summary",
		"done", "done_at", "viewed_at", "started_at",
	},
	Collections: []string{"parts"},
}

var messageSpec = &tree.Spec{
	Name:    "message",
	IDField: "message_id",
	Fields: []string{
		"message_id", "msg_type", "sent_at", "read_at",
		"locked", "needs_password", "subject", "sender", "style",
	},
}

var speciesSpec = &tree.Spec{
	Name:    "species",
	IDField: "species_id",
	Fields: []string{
		"species_id", "name", "description", "icon",
		"detected_at", "available_at", "viewed_at", "target_ids",
	},
	Collections: []string{"subspecies"},
}

var subspeciesSpec = &tree.Spec{
	Name:    "subspecies",
	IDField: "subspecies_id",
	Fields:  []string{"subspecies_id", "detected_at"},
}

var achievementSpec = &tree.Spec{
	Name:    "achievement",
	IDField: "achievement_key",
	Fields:  []string{"achievement_key", "achieved_at", "viewed_at"},
}

var capabilitySpec = &tree.Spec{
	Name:    "capability",
	IDField: "capability_key",
	Fields: []string{
		"capability_key", "uses", "free_uses", "unlimited", "available",
		"rover_features",
	},
}

var voucherSpec = &tree.Spec{
	Name:    "voucher",
	IDField: "voucher_key",
	Fields:  []string{"voucher_key", "level", "name", "delivered_at"},
}

var regionSpec = &tree.Spec{
	Name:    "region",
	IDField: "region_id",
	Fields: []string{
		"region_id", "shape", "verts", "center", "radius",
		"restrict", "style", "visible",
	},
}

var progressSpec = &tree.Spec{
	Name:    "progress",
	IDField: "key",
	Fields:  []string{"key", "value", "achieved_at"},
}

var mapTileSpec = &tree.Spec{
	Name:    "map_tile",
	IDField: "tile_id",
	Fields: []string{
		"tile_id", "tile_key", "zoom", "x", "y",
		"arrival_time", "expiry_time",
	},
}

var inviteSpec = &tree.Spec{
	Name:    "invite",
	IDField: "invite_id",
	Fields: []string{
		"invite_id", "recipient_email", "recipient_first_name",
		"recipient_last_name", "recipient_message", "sent_at", "accepted_at",
		"recipient_user_id",
	},
	Unmanaged: []string{"recipient_user_id"},
}

var giftSpec = &tree.Spec{
	Name:    "gift",
	IDField: "gift_id",
	Fields: []string{
		"gift_id", "gift_type", "creator_user_id", "redeemed_at", "invite_id",
	},
	Unmanaged: []string{"creator_user_id", "invite_id"},
}

var shopSpec = &tree.Spec{
	Name:        "shop",
	IDField:     "shop_id",
	Fields:      []string{"shop_id", "enabled", "stripe_customer_id"},
	Collections: []string{"purchased_products", "invoices"},
	ServerOnly:  []string{"stripe_customer_id"},
}

var purchasedProductSpec = &tree.Spec{
	Name:    "purchased_product",
	IDField: "product_key",
	Fields:  []string{"product_key", "name", "price_cents", "purchased_at"},
}

var invoiceSpec = &tree.Spec{
	Name:    "invoice",
	IDField: "invoice_id",
	Fields:  []string{"invoice_id", "total_cents", "created_at", "product_keys"},
}
