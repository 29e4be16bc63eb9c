// Package jobs runs two-phase work: a body on a bounded worker pool, then a
// commit on the single Main executor.
//
// The commit for a job always runs after its body has returned, and commits
// from all jobs are serialized on whichever goroutine drains Main. Code
// that mutates loader state (cache, in-flight rows, aggregate trees) only
// does so inside commits or other closures posted to Main.
package jobs
