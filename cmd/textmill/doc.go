// Command textmill catalogs archive members into a resumable job store and
// extracts their text with a pool of workers.
//
// Typical use:
//
//	textmill config init
//	textmill catalog          # locate archives and record one job per member
//	textmill run              # extract until the catalog is drained
//	textmill jobs status      # counts per state
//	textmill extract 42 --clean
//
// Every command reads the same TOML configuration (see "textmill config show").
package main
