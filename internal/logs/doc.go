// Package logs tails the daemon log for `workqueue logs`.
//
// Tail prints the trailing lines of a file with bounded memory and, in follow
// mode, keeps polling for appended lines until the context is canceled. The
// daemon rotates its log per run by repointing the workqueue.log link, so the
// follower reopens the path and starts from the top whenever the underlying
// file changes or shrinks.
package logs
