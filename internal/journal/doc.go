// Package journal indexes published settlement events into a queryable store.
package journal
