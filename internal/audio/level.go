// Package audio provides the level analyzer and silence timer that drive
// voice-activity detection in the capture engine.
package audio

import (
	"github.com/streekomroep/voxcap/internal/types"
)

// MeanLevel reduces one frame of per-bin magnitude values to a single scalar
// volume in [0, MaxLevel]. The result is the arithmetic mean of all bins;
// each tick is independent and no smoothing is applied. This scalar is both
// the observable volume and the sole voice-activity discriminator.
func MeanLevel(frame []float64) float64 {
	if len(frame) == 0 {
		return 0
	}

	var sum float64
	for _, v := range frame {
		sum += v
	}
	mean := sum / float64(len(frame))

	return min(max(mean, 0), types.MaxLevel)
}

// Threshold maps a 0-100 sensitivity value onto the 0-255 volume domain.
// The same threshold governs voice onset and release; there is no hysteresis
// band.
func Threshold(sensitivity int) float64 {
	return float64(sensitivity) * types.ThresholdScale
}
