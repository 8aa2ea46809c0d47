// Package web3 connects the daemon to an EVM node so the configured signing
// domain can be checked against the chain it claims to describe.
package web3
