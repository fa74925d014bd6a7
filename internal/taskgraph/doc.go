// Package taskgraph runs named tasks as a directed acyclic graph.
//
// A Graph is built once from tasks and their declared dependencies and
// validated up front: empty or duplicate names, unknown dependencies and
// cycles are rejected. Run executes it with a bounded worker pool; a task
// becomes ready when every dependency has finished.
//
// Failure handling is per task. When a task marked ContinueOnError fails,
// the failure is recorded and its dependents still run. When any other
// task fails, its dependents are skipped and Run returns the error.
// Failures are not aggregated: Run reports the first hard failure only.
package taskgraph
