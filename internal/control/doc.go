// Package control implements the operator actions: weights, process
// lifecycle, failure simulation, and the status view with its log.
//
// Lifecycle actions on one server are serialized through a shared
// supervisor.Guard, so an operator start or stop never interleaves with a
// failure simulation's recovery on the same server. An explicit start or
// stop also cancels any pending recovery for that server.
package control
