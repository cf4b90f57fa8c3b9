// Package scheduler coalesces reconciliation triggers.
//
// A Debouncer owns at most one pending task: scheduling again replaces it.
// A Guard drops calls that arrive while a previous one is in flight or
// settling.
package scheduler
