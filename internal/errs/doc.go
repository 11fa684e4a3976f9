// Package errs defines the error kinds surfaced by the routing engine and
// its control surface, and maps them to HTTP status codes.
package errs
