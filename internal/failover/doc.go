// Package failover forces a backend offline for a bounded time and brings
// it back automatically, so the router's eviction path can be exercised on
// demand.
//
// At most one simulation is tracked per server. Starting a new simulation
// for a server that already has one supersedes it: the old recovery timer is
// stopped, and a generation number guarantees that a timer which already
// fired cannot recover the server on behalf of the superseded simulation.
package failover
