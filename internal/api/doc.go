// Package api serves the settlement engine over HTTP. Read-only views are
// public; every state change runs as the address authenticated by the
// bearer token, which the engine treats as the caller.
package api
