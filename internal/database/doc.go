// Package database owns the SQLite connection shared by the job store and the
// statistics stores.
//
// Open applies the connection pragmas (WAL, busy timeout), creates the schema
// on first use, and refuses to run against a database written by a different
// schema version. RetryOnBusy and ExecWithRetry absorb transient SQLITE_BUSY
// errors so concurrent workers can share the file. CheckHealth and Reset back
// the `jobs health` and `jobs reset` commands.
package database
