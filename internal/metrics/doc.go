// Package metrics exports job and stage counters in the Prometheus format.
package metrics
