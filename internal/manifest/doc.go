// Package manifest reads and writes manifest.json, the side-artifact that
// lists the series and instance files of a storage directory.
package manifest
