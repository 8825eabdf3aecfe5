package gain

import "math"

// limiterThreshold is where the soft-clip curve begins bending; samples
// below it pass through unchanged.
const limiterThreshold = 0.95

// Limiter is the final safety-net stage: a tanh soft-clip that prevents
// inter-stage gain (EQ boost, leveling, headroom miscalibration) from
// producing a hard digital clip, at the cost of soft harmonic saturation
// only on the rare sample that actually exceeds threshold.
type Limiter struct {
	bypassed bool
}

// NewLimiter returns an enabled Limiter.
func NewLimiter() *Limiter { return &Limiter{} }

func (l *Limiter) SetBypassed(v bool) { l.bypassed = v }
func (l *Limiter) Bypassed() bool     { return l.bypassed }

// Process clamps any sample beyond +/-limiterThreshold through tanh,
// leaving everything else untouched.
func (l *Limiter) Process(buf []float32, frames, channels int) {
	if l.bypassed {
		return
	}
	n := frames * channels
	for i := 0; i < n; i++ {
		x := buf[i]
		if x > limiterThreshold {
			buf[i] = limiterThreshold + (1-limiterThreshold)*float32(math.Tanh(float64((x-limiterThreshold)/(1-limiterThreshold))))
		} else if x < -limiterThreshold {
			buf[i] = -limiterThreshold + (1-limiterThreshold)*float32(math.Tanh(float64((x+limiterThreshold)/(1-limiterThreshold))))
		}
	}
}

func (l *Limiter) Reset() {}
