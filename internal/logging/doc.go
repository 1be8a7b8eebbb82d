// Package logging configures log/slog for repoindex: a JSON handler writing
// to stderr and, when enabled, to a size-rotated file under
// ~/.repoindex/logs/.
package logging
