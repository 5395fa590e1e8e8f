package lifecycle

import (
	"errors"
	"sync"
)

// Outcome collects what hooks want to tell the caller without failing the
// operation. It is safe for concurrent use and a nil *Outcome discards
// everything.
type Outcome struct {
	mu       sync.Mutex
	topics   []string
	warnings map[string][]error
	counters map[string]int
}

// NewOutcome returns an empty Outcome.
func NewOutcome() *Outcome {
	return &Outcome{
		warnings: make(map[string][]error),
		counters: make(map[string]int),
	}
}

// Warn records err under topic.
func (o *Outcome) Warn(topic string, err error) {
	if o == nil || err == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, seen := o.warnings[topic]; !seen {
		o.topics = append(o.topics, topic)
	}
	o.warnings[topic] = append(o.warnings[topic], err)
}

// Warnings returns the warnings recorded under topic.
func (o *Outcome) Warnings(topic string) []error {
	if o == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.warnings[topic]...)
}

// Err joins every warning in the order topics were first seen.
func (o *Outcome) Err() error {
	if o == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	var all []error
	for _, t := range o.topics {
		all = append(all, o.warnings[t]...)
	}
	return errors.Join(all...)
}

// Add increments counter by n.
func (o *Outcome) Add(counter string, n int) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.counters[counter] += n
	o.mu.Unlock()
}

// Count returns the value of counter.
func (o *Outcome) Count(counter string) int {
	if o == nil {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters[counter]
}
