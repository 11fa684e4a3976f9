// Package stats keeps per-server request counters and a bounded log of
// generation events behind a single lock, so a reader never sees a log
// entry without its counter increment or the other way round.
package stats
