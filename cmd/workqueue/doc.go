// Command workqueue is the operator CLI for the work queue engine.
//
// It runs the daemon in the foreground and inspects or edits the queue
// database directly: listing and describing entries, enqueueing work,
// retrying failed entries, registering storage units and reporting the
// preflight state of the host. It also tails the daemon log and sends test
// notifications.
package main
