// Package notifier delivers short operator-facing messages.
//
// Notifications are private messages to admins or to the user that caused
// an event (for example the admin who promoted the bot in a channel). They
// are best-effort: a failed delivery is logged and reported to the caller,
// never retried forever.
//
// # Delivery
//
// Sends go through a shared rate limiter. A platform flood-wait is honored
// before the next attempt. Identical messages to the same chat inside the
// dedup window are suppressed.
//
// # History
//
// For operator visibility the service keeps a small in-memory history of
// recently delivered notifications.
package notifier
