package audio

import "math"

const (
	// SilenceFloorDB is the level reported for an empty or all-zero block
	SilenceFloorDB = -120.0

	levelEpsilon = 1e-12
	fullScale    = 32768.0
)

// RMS returns the root mean square of the samples, 0 for an empty slice
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// LevelDB returns the block level in dBFS: 20*log10(rms/32768 + eps),
// clamped to SilenceFloorDB so it is never -Inf.
func LevelDB(samples []int16) float64 {
	if len(samples) == 0 {
		return SilenceFloorDB
	}
	db := 20 * math.Log10(RMS(samples)/fullScale+levelEpsilon)
	if db < SilenceFloorDB {
		return SilenceFloorDB
	}
	return db
}
