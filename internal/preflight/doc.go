// Package preflight checks that a data directory can host an index before
// long-running work starts.
//
// The checks cover free disk space, write access, the open file limit,
// the index lock, the graph database and the spool's rejected files.
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, preflight.Paths{DataDir: dir, ...})
//	if checker.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight
