// Package ingesterr defines the error kinds shared by the archive, content,
// job store, and pipeline packages.
//
// Every failure that reaches the pipeline carries one of the exported marker
// errors. The pipeline uses the marker to decide between failing a single job
// (ArchiveUnreadable, MemberNotFound, CorruptMember) and backing off the whole
// worker (StoreUnavailable). KindOf maps a marker to the string persisted in
// the job's error_kind column.
package ingesterr
