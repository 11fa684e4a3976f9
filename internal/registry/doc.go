// Package registry holds the table of backend workers: identity, endpoint,
// weight, health and running state. It is the single owner of that state;
// callers only ever see value snapshots.
package registry
