// Package preflight checks the filesystem paths textmill depends on before a
// catalog or extraction run starts.
//
// The CLI runs RunAll ahead of "textmill catalog" and "textmill run" and
// refuses to start when a check fails; "textmill jobs health" prints the same
// results. Checks never create directories.
package preflight
