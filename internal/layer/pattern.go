package layer

// DefaultNoteProbability is the chance that a step starts active in a newly
// recorded layer.
const DefaultNoteProbability = 0.3

// RandSource yields uniform values in [0, 1). *rand.Rand satisfies it.
type RandSource interface {
	Float64() float64
}

// RandomPattern draws each step independently, active with probability p.
func RandomPattern(src RandSource, p float64) Notes {
	var n Notes
	for i := range n {
		n[i] = src.Float64() < p
	}
	return n
}
