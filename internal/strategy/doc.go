// Package strategy picks one backend out of a set of healthy candidates.
//
// The weighted random strategy builds a cumulative weight distribution over
// the candidates on every call and performs a single uniform draw, so each
// candidate is chosen with probability weight/sum(weights), independent of
// previous calls. Weights below one count as one.
package strategy
