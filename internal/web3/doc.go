// Package web3 houses blockchain connectivity for the analytics engine:
// chain definitions with ordered RPC candidates, the read-only client
// contract implemented by the ethereum package, and the endpoint selector
// plus balance reader in the provider package.
package web3
