// Package jobs persists the member catalog and doubles as the durable work
// queue that drives extraction.
//
// Every archive member becomes exactly one job, keyed by (archive_path,
// member_path). Workers claim the oldest pending job with a single atomic
// statement, refresh a heartbeat while they hold it, and finish by marking
// the job processed or failed with the claim token they were issued. A job
// whose token no longer matches has been reclaimed by recovery and the
// worker's result is rejected with ErrClaimLost.
//
// Crash recovery comes in two forms: ResetClaimed returns every claimed job to
// pending (run at startup when no other run holds the lock), and ReclaimStale
// returns only claims whose heartbeat has expired.
package jobs
