// Package web3 houses blockchain connectivity utilities: network definitions
// loaded from YAML, the read-only chain client abstraction, and the
// account-abstraction addresses (entry point, account factory, router) the
// relay and account packages build on.
package web3
