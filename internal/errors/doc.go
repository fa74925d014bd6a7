// Package errors provides structured, actionable error messages for assetpipe.
//
// Errors carry a code, a category, a short message and optional detail,
// source location and fix suggestion. Style and script build failures
// use the location fields so the terminal and the browser overlay can
// point at the offending line.
//
// # Error Categories
//
//   - config: configuration file and path layout problems
//   - build: per-kind build task failures (recoverable)
//   - watch: file watcher failures
//   - server: dev server failures
//   - publish: bucket upload failures
//   - graph: task graph construction and scheduling failures
//
// # Usage
//
//	err := errors.New("E110").
//	    WithLocation("src/scss/a.scss", 3, 9).
//	    WithDetail(`expected ";"`)
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR E110: Stylesheet compilation failed
//	//
//	//   src/scss/a.scss:3:9
//	//
//	//       2 │ .a {
//	//   →   3 │   color red
//	//         │         ^
//	//       4 │ }
//	//
//	//   expected ";"
package errors
