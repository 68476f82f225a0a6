// Package audit implements async event dispatching for security-relevant
// operations.
//
// The package owns event buffering and sink delivery. Which events to emit
// is the engine's decision; sinks never filter on business logic and never
// perform I/O beyond what the caller-supplied writer does.
package audit
