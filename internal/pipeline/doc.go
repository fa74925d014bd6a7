// Package pipeline wires the asset tasks into a task graph and runs the
// build and watch phases.
//
// The graph for a full build is:
//
//	clean ──┬─▶ styles
//	        ├─▶ markup
//	        ├─▶ scripts
//	        ├─▶ video
//	        └─▶ images
//
// clean is a hard dependency: if it fails nothing else runs. The build
// tasks continue on error, so one broken stylesheet does not block the
// scripts bundle. The dev graph adds watch and serve, which depend on
// every build task and run until the context ends.
//
// Every run gets a run ID (a UUID) that is attached to its log lines.
package pipeline
