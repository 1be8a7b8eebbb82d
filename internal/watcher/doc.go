// Package watcher is the file intake for indexing requests. A Spool watches
// a directory with fsnotify and dispatches the requests held in each JSON
// file dropped into it, falling back to periodic rescans where file events
// are unavailable.
//
// Writers use Submit, which writes name.json.tmp and renames it into place:
//
//	path, err := watcher.Submit(spoolDir, req)
//
// Files that cannot be decoded or hold an invalid request are moved to the
// failed subdirectory next to an .error.json sidecar describing why.
package watcher
