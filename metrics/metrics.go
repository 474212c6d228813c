// Package metrics defines the recorder interface used to count engine
// events and observe chain-read latency.
package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
