// Package scheduler registers wall-clock triggers (cron, daily, weekly) and
// turns each firing into a task on the engine. It never runs jobs itself.
package scheduler
