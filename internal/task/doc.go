// Package task implements the elastic task-processing runtime: per-domain
// unbounded FIFO queues, a least-loaded dispatcher, workers with bounded
// sub-queues and concurrency limiters, and the Runtime that ties the domains
// together behind an idempotent Submit.
//
// The runtime knows nothing about what a task means. A task is an identifier,
// an opaque payload and a run function; the runtime only interprets success,
// failure and duration.
package task
