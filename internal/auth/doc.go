// Package auth authenticates API callers by signature. A caller signs a
// timestamped personal message with the same key that signs its intents and
// receives a short-lived HS256 token whose subject is the recovered address.
package auth
