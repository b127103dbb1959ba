// Package postgres implements store.Store on PostgreSQL using pgx/v5.
//
// Claims use a single UPDATE over a FOR UPDATE SKIP LOCKED subselect, so
// concurrent pollers never lease the same row and never block on rows
// another poller is claiming. Transactions from WithTx take row locks
// with SELECT ... FOR UPDATE. Schema migrations are embedded SQL files
// applied in filename order and tracked in conductor_migrations.
package postgres
