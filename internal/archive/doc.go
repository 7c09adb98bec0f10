// Package archive finds archive files on disk and exposes their members
// through one format-neutral interface.
//
// Formats are recognised by content signature, never by extension alone:
// ZIP by its local or end-of-central-directory records, TAR by a valid header
// checksum, optionally behind a gzip, bzip2, xz, zstd or lz4 stream.
//
// ZIP archives and plain TAR archives support concurrent member reads. A
// compressed TAR can only be read forward, so its Archive reports Sequential
// and callers must not interleave reads of two of its members.
package archive
