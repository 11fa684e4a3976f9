// Package router answers generate requests by drawing one healthy backend
// by weight and forwarding the request to it.
//
// A backend that fails a forward is evicted on the spot: it is marked
// unhealthy and stays out of the candidate set until the health monitor sees
// it answer again or an operator brings it back. The router never retries on
// another backend; the caller gets an error naming the backend that failed.
package router
