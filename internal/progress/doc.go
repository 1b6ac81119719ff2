// Package progress carries extraction job milestones from the workers to
// observers. Workers emit Events into a non-blocking Hub, which batches them
// on a background goroutine and hands each batch to the configured sinks.
package progress
