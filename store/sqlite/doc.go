// Package sqlite implements store.Store on SQLite using the pure-Go
// modernc.org/sqlite driver. Suitable for embedded deployments, CLI tools
// and single-node installs.
//
// The store holds a single connection, so every statement and every
// transaction is serialized. A claim is one UPDATE ... RETURNING over a
// LIMIT 1 subselect, which makes it atomic without row locks. Timestamps
// are stored as Unix microseconds.
//
//	s, err := sqlite.Open(ctx, "file:conductor.db")
//	if err != nil { ... }
//	defer s.Close()
//	_ = s.Migrate(ctx)
package sqlite
