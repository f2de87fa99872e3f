package bifaci

// Default maximum encoded envelope size (3.5 MB)
const DefaultMaxEnvelope int = 3_670_016

// Hard limit on envelope size (16 MB) - no configuration can raise it
const MaxEnvelopeHardLimit int = 16_777_216

// Limits bounds what a channel will send or accept.
type Limits struct {
	MaxEnvelope int `json:"max_envelope"`
}

// DefaultLimits returns the default limits
func DefaultLimits() Limits {
	return Limits{MaxEnvelope: DefaultMaxEnvelope}
}

// NegotiateLimits returns the minimum of two limit sets
func NegotiateLimits(a, b Limits) Limits {
	return Limits{MaxEnvelope: minInt(a.MaxEnvelope, b.MaxEnvelope)}
}

// normalize clamps zero or out-of-range values.
func (l Limits) normalize() Limits {
	if l.MaxEnvelope <= 0 {
		l.MaxEnvelope = DefaultMaxEnvelope
	}
	if l.MaxEnvelope > MaxEnvelopeHardLimit {
		l.MaxEnvelope = MaxEnvelopeHardLimit
	}
	return l
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
