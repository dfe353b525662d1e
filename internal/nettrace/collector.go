package nettrace

import (
	"sync"
	"time"
)

// Timeline is the ordered, immutable record of phases collected for one
// exchange.
type Timeline struct {
	Started   time.Time
	Completed time.Time
	Duration  time.Duration
	Phases    []Phase
}

// Clone returns a deep copy so callers can retain a Timeline past the
// lifetime of the Collector that produced it.
func (t *Timeline) Clone() *Timeline {
	if t == nil {
		return nil
	}
	clone := *t
	if len(t.Phases) > 0 {
		clone.Phases = make([]Phase, len(t.Phases))
		copy(clone.Phases, t.Phases)
	}
	return &clone
}

type openPhase struct {
	kind  PhaseKind
	start time.Time
	meta  PhaseMeta
}

// Collector accumulates phase begin/end events for a single in-flight
// exchange. It is not safe for concurrent use by more than one handle;
// each Connection handle owns its own Collector.
type Collector struct {
	mu        sync.Mutex
	started   time.Time
	completed time.Time
	open      map[PhaseKind]*openPhase
	order     []PhaseKind
	phases    []Phase
	done      bool
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{open: make(map[PhaseKind]*openPhase)}
}

// Begin marks the start of kind at t. A phase already open for kind is
// replaced (the earlier Begin without a matching End is discarded).
func (c *Collector) Begin(kind PhaseKind, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.IsZero() {
		c.started = t
	}
	if _, exists := c.open[kind]; !exists {
		c.order = append(c.order, kind)
	}
	c.open[kind] = &openPhase{kind: kind, start: t}
}

// UpdateMeta mutates the metadata of the currently open phase for kind, if
// any. It is a no-op once the phase has ended or was never begun.
func (c *Collector) UpdateMeta(kind PhaseKind, fn func(*PhaseMeta)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if op, ok := c.open[kind]; ok {
		fn(&op.meta)
	}
}

// End closes the phase for kind at t, recording err (if non-nil) as the
// phase's failure marker.
func (c *Collector) End(kind PhaseKind, t time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op, ok := c.open[kind]
	if !ok {
		return
	}
	delete(c.open, kind)

	p := Phase{Kind: kind, Start: op.start, Duration: t.Sub(op.start), Meta: op.meta}
	if err != nil {
		p.Err = err.Error()
	}
	c.phases = append(c.phases, p)
}

// Complete finalizes the collector at t, closing any phase that was begun
// but never ended (marked with the "incomplete" error) and freezing the
// resulting Timeline.
func (c *Collector) Complete(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	for _, kind := range c.order {
		op, ok := c.open[kind]
		if !ok {
			continue
		}
		c.phases = append(c.phases, Phase{
			Kind:     kind,
			Start:    op.start,
			Duration: t.Sub(op.start),
			Meta:     op.meta,
			Err:      "incomplete",
		})
	}
	c.open = map[PhaseKind]*openPhase{}
	c.done = true
	c.completed = t
}

func (c *Collector) Timeline() *Timeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.IsZero() && len(c.phases) == 0 {
		return &Timeline{}
	}
	tl := &Timeline{
		Started:   c.started,
		Completed: c.completed,
		Duration:  c.completed.Sub(c.started),
		Phases:    make([]Phase, len(c.phases)),
	}
	copy(tl.Phases, c.phases)
	return tl
}

// CumulativeEnd returns how long after Started the first recorded phase
// of kind ended, i.e. its Start-Started offset plus its Duration. It
// returns 0 if kind was never recorded, so callers building a curl-style
// cumulative timings struct can add phases unconditionally.
func (t *Timeline) CumulativeEnd(kind PhaseKind) time.Duration {
	if t == nil || t.Started.IsZero() {
		return 0
	}
	for _, p := range t.Phases {
		if p.Kind == kind {
			return p.Start.Add(p.Duration).Sub(t.Started)
		}
	}
	return 0
}

// aggregateDurations sums phase durations by kind (a phase kind can, in
// principle, be recorded more than once across retries).
func aggregateDurations(tl *Timeline) map[PhaseKind]time.Duration {
	out := make(map[PhaseKind]time.Duration, len(tl.Phases))
	for _, p := range tl.Phases {
		out[p.Kind] += p.Duration
	}
	return out
}
