// Package storage persists the channel directory, the views counter and an
// audit trail of directory mutations.
//
// It currently supports:
//   - sqlite (embedded migrations, single writer)
//   - postgres (gorm, auto-migrated models)
//   - memory (tests and throwaway runs)
package storage
