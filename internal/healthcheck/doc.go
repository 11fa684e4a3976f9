// Package healthcheck implements periodic, concurrent health probing of
// every registered backend. Each sweep probes all servers in parallel so a
// slow or unreachable backend cannot delay the verdict on the others.
package healthcheck
