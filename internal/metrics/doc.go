// Package metrics exports routing and health metrics in the Prometheus
// text format.
//
// It keeps the request path free of metric bookkeeping with a channel-based
// event pipeline: components emit events without blocking, and a dedicated
// goroutine applies them to the Prometheus collectors. Events that do not
// fit in the buffer are dropped.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.Event{
//		Type:     metrics.EventForwardSucceeded,
//		Server:   "Server1",
//		Duration: 52 * time.Millisecond,
//	})
//
//	mux.Handle("/metrics", collector.Handler())
//
// A nil *Collector is valid and discards every event, so components can be
// built without metrics in tests.
package metrics
