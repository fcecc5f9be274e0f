package usecases

import "commercebot/internal/entities"

// MeteredCall describes a finished model call for billing.
type MeteredCall struct {
	Model       entities.ModelSpec
	Deltas      int
	AnswerRunes int
}

// Meter prices a successful model call in credit units.
type Meter func(call MeteredCall) int

// FlatMeter charges one unit per call regardless of size.
func FlatMeter(MeteredCall) int { return 1 }
