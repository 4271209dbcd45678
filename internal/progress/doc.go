// Package progress carries job lifecycle events from crawl workers to sinks.
// Workers emit without blocking; a Hub batches events on a background
// goroutine and hands each batch to every sink.
package progress
