// Package pipeline drains the job catalog through the extraction workers.
//
// A Manager runs a bounded pool of workers. Each worker loops: claim the
// oldest pending job, keep its claim alive with heartbeats, read the member
// text, hand it to the consumer chain, then mark the job processed in the same
// transaction that persists the consumers' writes. Per-job failures are
// recorded on the job with their error kind and never stop other workers;
// repeated store failures stop the run.
//
// Cancellation is checked between jobs. A job interrupted mid-flight is
// released back to pending so the next run picks it up. A lock file next to
// the database keeps a single run per catalog.
package pipeline
