package catalog

// Species id bit layout: the low 4 bits of a raw detection id carry the
// subspecies; a species whose low 20 bits are all zero is a "too far to
// identify" marker that never produces SPECIES_ID events.

const (
	subspeciesMask = 0xF
	tooFarMask     = 0xFFFFF

	// MaxAvailabilityDelaySeconds caps every per-type reveal delay.
	MaxAvailabilityDelaySeconds = int64(6 * 60 * 60)

	// PendingSpeciesName is what the client sees until available_at.
	PendingSpeciesName = "Pending…"
)

// SpeciesKey strips the subspecies bits from a raw detection id.
func SpeciesKey(rawID int64) int64 {
	return rawID &^ subspeciesMask
}

// SubspeciesOf extracts the subspecies bits from a raw detection id.
func SubspeciesOf(rawID int64) int64 {
	return rawID & subspeciesMask
}

// TooFar reports whether the id marks an unidentifiable distant detection.
func TooFar(speciesID int64) bool {
	return speciesID&tooFarMask == 0
}

// ScoreWeight returns the identification score multiplier for a species
// type. Densities are weighted so rarer finds win rectangle arbitration.
func ScoreWeight(t SpeciesType) float64 {
	switch t {
	case SpeciesAnimal:
		return 1.2
	case SpeciesManMade:
		return 1.5
	case SpeciesArtifact:
		return 1.8
	default:
		return 1.0
	}
}
