// Package backend speaks the worker HTTP contract: GET on the generate path
// with optional min/max query parameters, and GET on the health path.
package backend
