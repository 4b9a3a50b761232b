package observability

import "time"

// Observer receives an event for every operation the pool and transaction
// packages complete. It keeps those packages free of any particular metrics,
// tracing or logging implementation.
//
// This interface is optional: every package works without an observer.
type Observer interface {
	// ObserveOperation is called when an operation completes.
	// It provides all context about the operation in a structured format.
	ObserveOperation(ctx OperationContext)
}

// OperationContext describes one completed operation.
type OperationContext struct {
	// Component identifies the package that performed the operation:
	// "pool" or "transaction".
	Component string

	// Operation describes what was done.
	// Examples: "acquire", "create", "destroy", "timeout", "commit", "rollback"
	Operation string

	// Resource is the canonical shard the operation ran against.
	// Empty for operations spanning every shard.
	Resource string

	// SubResource provides additional context (optional).
	// Pools report their kind ("threaded", "sharded_timed_queue");
	// transactions report the savepoint name for savepoint operations.
	SubResource string

	// Duration is how long the operation took from start to completion.
	Duration time.Duration

	// Error is the error returned by the operation, if any.
	// nil indicates successful operation.
	Error error

	// Size is a count attached to the operation (optional), such as the
	// savepoint depth of a transaction or the attempt number of a retry.
	Size int64

	// Metadata provides additional operation-specific information (optional).
	// Examples: {"isolation": "serializable"}, {"connections": 4, "concurrent": true}
	Metadata map[string]interface{}
}
