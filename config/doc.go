// Package config loads RandDistri settings from a YAML file and environment
// variables. It covers the listen address, logging, health probing, request
// forwarding, stats retention, operator actions, worker supervision, metrics,
// and the initial backend set.
package config
