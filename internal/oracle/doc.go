// Package oracle defines the decision capability the agent loop consults each
// cycle, the structural validation applied to every decision, and a local
// price-threshold rule. LLM-backed implementations live in subpackages.
package oracle
