// Package jobpool provides per-tenant pools of jobs, where a job is a single
// invocation of an external command run as an OS process.
//
// Each authenticated identity owns exactly one Pool, resolved through a
// Registry. A Pool allocates monotonically increasing job ids, captures
// process output in the background, and tracks each job through a
// forward-only lifecycle: running, then exactly one of completed, terminated,
// or error.
package jobpool
