// Package feed fetches the numeric market signal the agent loop reacts to.
package feed
