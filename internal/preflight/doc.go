// Package preflight provides readiness checks for the directories and
// resources and binaries the work queue daemon depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and refuses to start when a
//     Blocking result remains. Memory and optional binaries are advisory.
//   - The CLI "workqueue status" command displays every result.
//
// FreeMemory is also the probe the dispatcher uses for its memory floor.
package preflight
