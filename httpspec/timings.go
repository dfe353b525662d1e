package httpspec

import "time"

// Timings holds the per-phase duration of one completed request.
type Timings struct {
	NameLookUp    time.Duration
	Connect       time.Duration
	AppConnect    time.Duration
	PreTransfer   time.Duration
	StartTransfer time.Duration
	Total         time.Duration
}

// TimingsStats is the {min,max,mean,variance} aggregate of one phase over
// every completed request observed so far.
type TimingsStats struct {
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int

	m2 float64 // sum of squared deviations from the running mean (Welford)
}

// Variance returns the population variance of the observed samples, in
// squared nanoseconds. It is 0 until at least one sample is observed.
func (s *TimingsStats) Variance() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.m2 / float64(s.Count)
}

// Observe folds one more sample into the running aggregate using
// Welford's online algorithm, so a concurrent reader never needs to
// re-scan the full sample history to get variance.
func (s *TimingsStats) Observe(sample time.Duration) {
	s.Count++
	if s.Count == 1 || sample < s.Min {
		s.Min = sample
	}
	if s.Count == 1 || sample > s.Max {
		s.Max = sample
	}
	delta := float64(sample) - float64(s.Mean)
	newMean := float64(s.Mean) + delta/float64(s.Count)
	delta2 := float64(sample) - newMean
	s.Mean = time.Duration(newMean)
	s.m2 += delta * delta2
}

// ClientTimings aggregates TimingsStats per phase across every completed
// request a Client has driven.
type ClientTimings struct {
	NameLookUp    TimingsStats
	Connect       TimingsStats
	AppConnect    TimingsStats
	PreTransfer   TimingsStats
	StartTransfer TimingsStats
	Total         TimingsStats
}

// Observe folds one request's Timings into the aggregate.
func (c *ClientTimings) Observe(t Timings) {
	c.NameLookUp.Observe(t.NameLookUp)
	c.Connect.Observe(t.Connect)
	c.AppConnect.Observe(t.AppConnect)
	c.PreTransfer.Observe(t.PreTransfer)
	c.StartTransfer.Observe(t.StartTransfer)
	c.Total.Observe(t.Total)
}
