// Package catalog loads the static game catalogues: message types, mission
// definitions, species, capabilities, vouchers, products, and region
// geometry. Catalogues are read-only after init and reloaded only by
// restarting the process.
package catalog

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed content/*.yaml
var contentFS embed.FS

// MessageStyle selects the client rendering of a message.
type MessageStyle string

const (
	StyleDefault    MessageStyle = "default"
	StyleLockedDocs MessageStyle = "locked_docs"
	StyleLiveCall   MessageStyle = "live_call"
	StylePassword   MessageStyle = "password"
	StyleVideo      MessageStyle = "video"
	StyleAudio      MessageStyle = "audio"
	StyleAttachment MessageStyle = "attachment"
)

// MessageDef is a message type: subject, sender, body template, and style
// are static; per-user state (sent_at, read_at, locked) lives on the model.
type MessageDef struct {
	MsgType       string       `yaml:"msg_type"`
	Sender        string       `yaml:"sender"`
	Subject       string       `yaml:"subject"`
	Body          string       `yaml:"body"`
	Style         MessageStyle `yaml:"style"`
	Locked        bool         `yaml:"locked"`
	NeedsPassword bool         `yaml:"needs_password"`
}

// MissionDef is a mission definition. Parts name child definitions in order;
// Serial parents require their children done in sequence.
type MissionDef struct {
	Key            string   `yaml:"key"`
	Title          string   `yaml:"title"`
	Summary        string   `yaml:"summary"`
	Parts          []string `yaml:"parts"`
	Serial         bool     `yaml:"serial"`
	RegionsNotDone []string `yaml:"regions_not_done"`
	RegionsDone    []string `yaml:"regions_done"`
}

// SpeciesType weights identification scoring and shapes availability delay.
type SpeciesType string

const (
	SpeciesPlant    SpeciesType = "plant"
	SpeciesAnimal   SpeciesType = "animal"
	SpeciesManMade  SpeciesType = "manmade"
	SpeciesArtifact SpeciesType = "artifact"
)

// SpeciesDef is one identifiable species. DelaySeconds postpones the full
// reveal past first detection, bounded by MaxAvailabilityDelaySeconds.
type SpeciesDef struct {
	ID           int64       `yaml:"id"`
	Name         string      `yaml:"name"`
	Description  string      `yaml:"description"`
	Icon         string      `yaml:"icon"`
	Type         SpeciesType `yaml:"type"`
	DelaySeconds int64       `yaml:"delay_seconds"`
}

// CapabilityDef declares a capability's quota and the rover features it
// provides, plus its availability predicate inputs.
type CapabilityDef struct {
	Key             string   `yaml:"key"`
	FreeUses        int64    `yaml:"free_uses"`
	AlwaysUnlimited bool     `yaml:"always_unlimited"`
	RoverFeatures   []string `yaml:"rover_features"`
	MinRovers       int      `yaml:"min_rovers"`
	MinVoucherLevel string   `yaml:"min_voucher_level"`
}

// VoucherDef is an entitlement level.
type VoucherDef struct {
	Key   string `yaml:"key"`
	Level int    `yaml:"level"`
	Name  string `yaml:"name"`
}

// ProductDef is a purchasable product.
type ProductDef struct {
	Key        string `yaml:"key"`
	Name       string `yaml:"name"`
	PriceCents int64  `yaml:"price_cents"`
	VoucherKey string `yaml:"voucher_key"`
}

// RegionDef is a named area on the planet surface. Shape is "circle" or
// "polygon". Triggers are circles bound to a mission and nested in a zone;
// pinpoints are points that must sit inside their zone.
type RegionDef struct {
	ID       string      `yaml:"id"`
	Shape    string      `yaml:"shape"`
	Verts    [][]float64 `yaml:"verts"`
	Center   []float64   `yaml:"center"`
	Radius   float64     `yaml:"radius"`
	Restrict string      `yaml:"restrict"`
	Style    string      `yaml:"style"`
	Visible  bool        `yaml:"visible"`

	// trigger/pinpoint wiring
	Kind       string `yaml:"kind"` // "", "zone", "trigger", "pinpoint"
	ZoneID     string `yaml:"zone_id"`
	MissionKey string `yaml:"mission_key"`
}

// Catalog is the full static content set.
type Catalog struct {
	Messages     map[string]MessageDef
	Missions     map[string]MissionDef
	Species      map[int64]SpeciesDef
	Capabilities map[string]CapabilityDef
	Vouchers     map[string]VoucherDef
	Products     map[string]ProductDef
	Regions      map[string]RegionDef

	// ProgressKeys whitelists the keys the progress endpoint accepts.
	ProgressKeys map[string]struct{}
}

type contentFile struct {
	Messages     []MessageDef    `yaml:"messages"`
	Missions     []MissionDef    `yaml:"missions"`
	Species      []SpeciesDef    `yaml:"species"`
	Capabilities []CapabilityDef `yaml:"capabilities"`
	Vouchers     []VoucherDef    `yaml:"vouchers"`
	Products     []ProductDef    `yaml:"products"`
	Regions      []RegionDef     `yaml:"regions"`
	ProgressKeys []string        `yaml:"progress_keys"`
}

// Load parses the embedded content and validates every catalogue invariant.
func Load() (*Catalog, error) {
	c := &Catalog{
		Messages:     map[string]MessageDef{},
		Missions:     map[string]MissionDef{},
		Species:      map[int64]SpeciesDef{},
		Capabilities: map[string]CapabilityDef{},
		Vouchers:     map[string]VoucherDef{},
		Products:     map[string]ProductDef{},
		Regions:      map[string]RegionDef{},
		ProgressKeys: map[string]struct{}{},
	}

	entries, err := contentFS.ReadDir("content")
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		raw, err := contentFS.ReadFile("content/" + entry.Name())
		if err != nil {
			return nil, err
		}
		var file contentFile
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", entry.Name(), err)
		}
		c.merge(&file)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) merge(file *contentFile) {
	for _, m := range file.Messages {
		c.Messages[m.MsgType] = m
	}
	for _, m := range file.Missions {
		c.Missions[m.Key] = m
	}
	for _, s := range file.Species {
		c.Species[s.ID] = s
	}
	for _, cap := range file.Capabilities {
		c.Capabilities[cap.Key] = cap
	}
	for _, v := range file.Vouchers {
		c.Vouchers[v.Key] = v
	}
	for _, p := range file.Products {
		c.Products[p.Key] = p
	}
	for _, r := range file.Regions {
		c.Regions[r.ID] = r
	}
	for _, k := range file.ProgressKeys {
		c.ProgressKeys[k] = struct{}{}
	}
}
