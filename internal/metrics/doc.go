// Package metrics defines the Prometheus metrics exported by the voice chat
// client.
package metrics
