// Package httpserver wraps net/http.Server with address validation and a
// context-driven lifecycle.
package httpserver
