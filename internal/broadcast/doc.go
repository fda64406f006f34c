// Package broadcast builds the cross-promotion message and delivers it to
// every approved channel.
//
// A run loads the directory fresh, optionally shuffles it once, composes one
// inline button per channel and sends sequentially. Per-recipient failures
// are recorded in the Report and never abort the run. Runs are serialized:
// a second Run while one is in flight returns ErrRunInProgress.
package broadcast
