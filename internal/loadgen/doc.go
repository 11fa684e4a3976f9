// Package loadgen drives generate requests against a running router and
// summarizes how the answers were distributed across servers.
package loadgen
