// Package textproc holds the pure text collaborators the extraction pipeline
// feeds decoded member text through.
//
//   - ExtractTexts pulls "text" fields out of JSON documents
//   - Clean drops archive metadata noise and collapses blank-line runs
//   - Words splits text into lower-cased letter/digit tokens for counting
//
// None of these functions return errors: malformed input yields empty output.
package textproc
