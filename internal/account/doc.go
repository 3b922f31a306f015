// Package account links the operator's embedded-wallet login to an ERC-4337
// smart account and produces the immutable handle the agent loop owns for
// the lifetime of the process.
package account
