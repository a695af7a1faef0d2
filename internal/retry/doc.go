// Package retry holds the bounded retry policy shared by every store
// mutation the item processor performs.
package retry
