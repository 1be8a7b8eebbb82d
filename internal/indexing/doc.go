// Package indexing keeps a search index synchronized with a hierarchical
// content graph.
//
// Work arrives as a Request naming a target node and an ActionType. The
// Registry maps the action tag to an Action and performs it. Leaf actions
// (add, update, delete, clear, commit) mutate the index directly. Tree
// actions walk the graph with a TreeIndexer and dispatch one Request per
// node onto a Dispatcher, so per-node work can be retried and parallelized
// by the consumer without re-walking the tree.
//
// Consistency after moves and deletions is restored by the staleness
// protocol: an in-place reindex records when it started, refreshes every
// node it can reach, then dispatches a cleanup that purges every record in
// the scope last written before that start time.
package indexing
