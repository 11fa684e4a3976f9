// Package worker is the random number service the router forwards to. Each
// worker instance has an id and a default range, and answers generate calls
// after a fixed artificial latency.
package worker
