// Package schedule owns recurring job definitions: the [Entry] record with
// its own retry/dead-letter state, the append-only [RunAudit] trail, the
// typed handler [Registry], and the [Scheduler] that leases due entries
// and hands them to a [Runner].
//
// An entry moves between three states:
//
//	active ──fail (retries left)──▶ retrying ──success──▶ active
//	   │                               │
//	   └──────fail (exhausted)─────────┴──▶ dead_letter (terminal)
//
// Only an administrative [Scheduler.ResetDeadLetter] leaves dead_letter.
//
// Due selection is stateless: any number of processes may call
// [Scheduler.RunDue] concurrently; [Store.ClaimDueSchedules] leases each
// due entry to exactly one caller via LockedBy/LockedUntil.
package schedule
