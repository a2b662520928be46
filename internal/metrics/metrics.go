package metrics

import "time"

// Recorder is the metrics surface the queue processor emits events
// through.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
