// Package telemetry provides OpenTelemetry tracing and metrics for the
// orchestration core, plus a probabilistic sampler used to throttle
// telemetry volume without coupling workers to a specific backend.
package telemetry

import "math/rand/v2"

// Sampler makes stateless probabilistic admission decisions for telemetry
// emission. The random source is injectable so sampling decisions are
// deterministic under test.
type Sampler struct {
	rate float64
	rand func() float64
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithRandSource injects the uniform [0,1) source used for decisions.
func WithRandSource(f func() float64) SamplerOption {
	return func(s *Sampler) {
		if f != nil {
			s.rand = f
		}
	}
}

// NewSampler creates a sampler with rate clamped to [0,1].
func NewSampler(rate float64, opts ...SamplerOption) *Sampler {
	if rate < 0 || rate != rate { // NaN clamps to 0
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	s := &Sampler{rate: rate, rand: rand.Float64}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rate reports the clamped sample rate.
func (s *Sampler) Rate() float64 { return s.rate }

// ShouldSample returns false at rate 0, true at rate 1, otherwise true
// with probability rate.
func (s *Sampler) ShouldSample() bool {
	if s.rate <= 0 {
		return false
	}
	if s.rate >= 1 {
		return true
	}
	return s.rand() < s.rate
}
