package scoring

import "math"

// Scale maps service points onto the exercise maximum. A non-positive service
// maximum scores zero. The result is not clamped.
func Scale(servicePoints, serviceMaxPoints, exerciseMaxPoints int) float64 {
	if serviceMaxPoints <= 0 {
		return 0.0
	}
	return float64(exerciseMaxPoints) * float64(servicePoints) / float64(serviceMaxPoints)
}

// Round rounds half away from zero, so 2.5 becomes 3.
func Round(v float64) int {
	return int(math.Round(v))
}
