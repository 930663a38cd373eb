// Package preview turns pointer gestures on a day timeline into candidate
// reservation changes.
//
// The engine keeps a local copy of the day's reservations, snaps every
// candidate boundary to the workspace granularity, clamps it into the schedule
// window and flags overlaps with the cached reservations. The flag is only a
// hint for rendering: the server repeats the check inside its write
// transaction and its answer always wins. A committed gesture is applied
// optimistically and reverted if the server rejects it.
package preview
