// Package agent runs the autonomous decision loop: fetch a market signal, ask
// the oracle whether to act, and hand at most one sponsored action per cycle
// to the relay. Cycles run strictly one after another on a single goroutine.
package agent
