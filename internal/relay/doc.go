// Package relay submits swap requests for gasless execution. The bundler
// dispatcher wraps each request in an ERC-4337 user operation, has it
// sponsored by a paymaster and hands it to a bundler exactly once.
package relay
