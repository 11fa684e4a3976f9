// Package handler exposes the router and the operator actions over HTTP.
// Every response is JSON; failures carry the error kind and, when one is
// involved, the server id.
package handler
