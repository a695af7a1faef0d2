// Package recovery repairs storage units whose stored counts disagree with
// their files. It either rewrites the counts from the manifest or escalates
// to a reprocess entry.
package recovery
