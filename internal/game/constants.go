// Package game implements the authoritative game-state domain: the user
// tree, the target-arrival state machine, missions, messages, species
// identification, capabilities, regions, map tiles, and the activity
// digest.
package game

import "time"

// Target creation limits. Grace constants widen the window the client
// computed against, absorbing rounding between client and server: the grace
// is subtracted from the lower seconds bound and added to the upper seconds
// bound and to the distance limit.
const (
	TravelDistanceGrace  = 5.0 // meters
	TargetSecondsGrace   = int64(60)
	MinFastTargetSeconds = int64(60)

	DefaultMaxTravelDistance   = 50.0
	DefaultMinTargetSeconds    = int64(4 * 60 * 60)
	DefaultMaxTargetSeconds    = int64(12 * 60 * 60)
	DefaultMaxUnarrivedTargets = int64(3)
)

// MetadataFast relaxes the minimum arrival delta for scripted fast moves.
const MetadataFast = "fast"

// TileZoom is the fixed zoom level user map tiles are tracked at.
const TileZoom = 18

// RenderAlertThreshold flags a picture target still unprocessed this long
// past the moment the renderer should have picked it up.
const RenderAlertThreshold = 30 * time.Minute

// Rover feature metadata keys arbitrated by capabilities.
const (
	FeaturePicture  = "picture"
	FeaturePanorama = "panorama"
	FeatureInfrared = "infrared"
	FeatureFlash    = "flash"
)

// Activity digest frequencies, in minutes of quiet window.
const (
	ActivityFrequencyOff    = "OFF"
	ActivityFrequencyLow    = "LOW"
	ActivityFrequencyMedium = "MEDIUM"
	ActivityFrequencyHigh   = "HIGH"
)

// ActivityWindow returns the digest window for a frequency setting, and
// whether digests are enabled at all.
func ActivityWindow(frequency string) (time.Duration, bool) {
	switch frequency {
	case ActivityFrequencyLow:
		return 8 * time.Hour, true
	case ActivityFrequencyMedium:
		return 90 * time.Minute, true
	case ActivityFrequencyHigh:
		return 30 * time.Minute, true
	default:
		return 0, false
	}
}
