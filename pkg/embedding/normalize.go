package embedding

import "math"

// normalizeEpsilon guards against dividing by the magnitude of an
// effectively zero vector.
const normalizeEpsilon = 1e-12

// normalize scales v in place so its L2 magnitude equals 1. A vector whose
// magnitude is below [normalizeEpsilon] is left unchanged.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	mag := math.Sqrt(sum)
	if mag < normalizeEpsilon {
		return
	}
	inv := float32(1 / mag)
	for i := range v {
		v[i] *= inv
	}
}
