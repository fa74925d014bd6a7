// Package dev provides the watch loop and development server.
//
// This package implements:
//   - File watching with fsnotify, mapped to asset kinds by glob
//   - An event queue drained by a single dispatcher
//   - Static serving of the destination directory
//   - WebSocket-based browser refresh and error overlay
//
// # Architecture
//
//   - Watcher: classifies file events and queues one Event per kind after
//     a settle delay
//   - Dispatcher: runs the task for each queued Event, one at a time, and
//     broadcasts the outcome
//   - Server: serves the destination directory and the reload endpoint
//   - ReloadServer: notifies browsers of changes via WebSocket
//
// # Usage
//
//	w, err := dev.NewWatcher(dev.WatcherConfig{Config: cfg})
//	if err != nil {
//	    return err
//	}
//	reload := dev.NewReloadServer()
//	d := dev.NewDispatcher(w.Events(), dev.DispatcherOptions{
//	    Run:      runKind,
//	    Reloader: reload,
//	})
//
//	go w.Start(ctx)
//	go d.Run(ctx)
//
// # Overlapping globs
//
// A path matching more than one kind's glob belongs to the first kind in
// config.Kinds order: styles, markup, scripts, images, video.
//
// # Hot Reload Protocol
//
// The browser connects to /_assetpipe/reload via WebSocket.
// Messages are JSON-encoded:
//
//	{"type": "reload"}                // Triggers full page reload
//	{"type": "css", "file": "..."}    // Triggers CSS-only reload
//	{"type": "error", "error": "..."} // Shows error overlay
//	{"type": "clear"}                 // Clears error overlay
package dev
