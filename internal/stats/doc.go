// Package stats persists corpus statistics that live next to the job catalog:
// per-word frequencies gathered by the extraction pipeline and the token
// vocabulary used to map pieces to ids.
//
// Both stores share the job database. WordCounter.IncrementTx lets the
// pipeline commit a job's counts in the same transaction that marks the job
// processed.
package stats
