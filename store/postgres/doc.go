// Package postgres implements the outpost store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED claims for queue items and schedule leases,
// transactional run recording, embedded SQL migrations.
package postgres
