// Package lifecycle holds the single piece of shared mutable state the
// Engine and its processors coordinate shutdown through: a flag cleared
// once, checked everywhere (spec §4.7, §5).
package lifecycle

import "sync/atomic"

// Flag is a shared running flag. Processors check it between fetch-loop
// iterations; the Engine clears it exactly once on shutdown.
type Flag struct {
	running atomic.Bool
}

// NewFlag returns a flag initialized to running.
func NewFlag() *Flag {
	f := &Flag{}
	f.running.Store(true)
	return f
}

// Running reports whether processors should keep looping.
func (f *Flag) Running() bool { return f.running.Load() }

// Stop clears the flag; Running returns false from this point on.
func (f *Flag) Stop() { f.running.Store(false) }
