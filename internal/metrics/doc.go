// Package metrics holds the Prometheus counters for the channel engine and
// the development relay.
package metrics
