// Package scheduler fires the broadcast run on a cadence.
//
// A Trigger decides when to fire (cron expression, interval, or manual) and
// the Scheduler turns each fire into at most one run: while a run is in
// flight a tick is either skipped or coalesced into a single pending run,
// depending on the overlap policy. Two runs never overlap.
package scheduler
