package catalog

import (
	"fmt"

	"github.com/plastr/extrasolar/internal/geo"
)

const (
	// TriggerNestMarginMeters is the minimum clearance between an audio
	// trigger's edge and its zone's edge.
	TriggerNestMarginMeters = 50.0

	// PinpointThresholdMeters shrinks a zone before testing pinpoint
	// membership.
	PinpointThresholdMeters = 25.0
)

// Validate enforces the catalogue invariants. It runs once at load; a
// violation means bad content, not bad user input.
func (c *Catalog) Validate() error {
	if err := c.validateMissions(); err != nil {
		return err
	}
	if err := c.validateSpecies(); err != nil {
		return err
	}
	if err := c.validateCapabilities(); err != nil {
		return err
	}
	if err := c.validateRegions(); err != nil {
		return err
	}
	for _, p := range c.Products {
		if p.VoucherKey != "" {
			if _, ok := c.Vouchers[p.VoucherKey]; !ok {
				return fmt.Errorf("catalog: product %s references unknown voucher %s", p.Key, p.VoucherKey)
			}
		}
	}
	return nil
}

func (c *Catalog) validateMissions() error {
	for key, def := range c.Missions {
		for _, part := range def.Parts {
			child, ok := c.Missions[part]
			if !ok {
				return fmt.Errorf("catalog: mission %s names unknown part %s", key, part)
			}
			if len(child.Parts) > 0 {
				return fmt.Errorf("catalog: mission %s part %s is itself a parent", key, part)
			}
		}
		for _, rid := range append(append([]string{}, def.RegionsNotDone...), def.RegionsDone...) {
			if _, ok := c.Regions[rid]; !ok {
				return fmt.Errorf("catalog: mission %s references unknown region %s", key, rid)
			}
		}
	}
	return nil
}

func (c *Catalog) validateSpecies() error {
	for id, def := range c.Species {
		if SubspeciesOf(id) != 0 {
			return fmt.Errorf("catalog: species %d carries subspecies bits; catalogue ids must be base ids", id)
		}
		if def.DelaySeconds < 0 || def.DelaySeconds > MaxAvailabilityDelaySeconds {
			return fmt.Errorf("catalog: species %d delay %ds exceeds maximum %ds", id, def.DelaySeconds, MaxAvailabilityDelaySeconds)
		}
	}
	return nil
}

func (c *Catalog) validateCapabilities() error {
	// at most one capability may provide a rover feature under identical
	// availability conditions; overlapping providers must differ in their
	// availability predicate so only one is available at any instant
	providers := map[string][]CapabilityDef{}
	for _, def := range c.Capabilities {
		for _, feature := range def.RoverFeatures {
			providers[feature] = append(providers[feature], def)
		}
	}
	for feature, defs := range providers {
		for i := 0; i < len(defs); i++ {
			for j := i + 1; j < len(defs); j++ {
				a, b := defs[i], defs[j]
				if a.MinRovers == b.MinRovers && a.MinVoucherLevel == b.MinVoucherLevel {
					return fmt.Errorf("catalog: capabilities %s and %s both provide %s under the same conditions", a.Key, b.Key, feature)
				}
			}
		}
	}
	return nil
}

func (c *Catalog) validateRegions() error {
	for id, def := range c.Regions {
		switch def.Shape {
		case "circle":
			if len(def.Center) != 2 || def.Radius <= 0 {
				return fmt.Errorf("catalog: circle region %s needs center [lat,lng] and positive radius", id)
			}
		case "polygon":
			if len(def.Verts) < 3 {
				return fmt.Errorf("catalog: polygon region %s needs at least 3 verts", id)
			}
		case "point":
			if len(def.Center) != 2 {
				return fmt.Errorf("catalog: point region %s needs center [lat,lng]", id)
			}
		default:
			return fmt.Errorf("catalog: region %s has unknown shape %q", id, def.Shape)
		}

		switch def.Kind {
		case "", "zone":
		case "trigger":
			zone, ok := c.Regions[def.ZoneID]
			if !ok {
				return fmt.Errorf("catalog: trigger %s references unknown zone %s", id, def.ZoneID)
			}
			if def.MissionKey == "" {
				return fmt.Errorf("catalog: trigger %s has no mission key", id)
			}
			if _, ok := c.Missions[def.MissionKey]; !ok {
				return fmt.Errorf("catalog: trigger %s references unknown mission %s", id, def.MissionKey)
			}
			if !zoneCircle(zone).ContainsCircle(zoneCircle(def), TriggerNestMarginMeters) {
				return fmt.Errorf("catalog: trigger %s does not nest %.0fm inside zone %s", id, TriggerNestMarginMeters, def.ZoneID)
			}
		case "pinpoint":
			zone, ok := c.Regions[def.ZoneID]
			if !ok {
				return fmt.Errorf("catalog: pinpoint %s references unknown zone %s", id, def.ZoneID)
			}
			shrunk := zoneCircle(zone)
			shrunk.Radius -= PinpointThresholdMeters
			if !shrunk.Contains(geo.Point{Lat: def.Center[0], Lng: def.Center[1]}) {
				return fmt.Errorf("catalog: pinpoint %s lies outside zone %s minus threshold", id, def.ZoneID)
			}
		default:
			return fmt.Errorf("catalog: region %s has unknown kind %q", id, def.Kind)
		}
	}
	return nil
}

// Trigger returns the trigger circle and target mission for a region, when
// the region is an audio trigger.
func (c *Catalog) Trigger(id string) (geo.Circle, string, bool) {
	def, ok := c.Regions[id]
	if !ok || def.Kind != "trigger" {
		return geo.Circle{}, "", false
	}
	return zoneCircle(def), def.MissionKey, true
}

// AudioTriggers returns the ids of every trigger region.
func (c *Catalog) AudioTriggers() []string {
	var ids []string
	for id, def := range c.Regions {
		if def.Kind == "trigger" {
			ids = append(ids, id)
		}
	}
	return ids
}

func zoneCircle(def RegionDef) geo.Circle {
	return geo.Circle{
		Center: geo.Point{Lat: def.Center[0], Lng: def.Center[1]},
		Radius: def.Radius,
	}
}
