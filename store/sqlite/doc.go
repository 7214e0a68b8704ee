// Package sqlite implements store.Store using the grove ORM with SQLite
// dialect. Suitable for single-node installs, CLI tools and local
// development.
//
// The caller owns the *grove.DB lifecycle -- sqlite never closes it. Pass the
// db handle through the constructor:
//
//	import (
//	    "github.com/xraph/grove"
//	    "github.com/xraph/outpost/store/sqlite"
//	)
//
//	db, _ := grove.Open(ctx, "sqlite", dsn)
//	store := sqlite.New(db)
//	store.Migrate(ctx)
//
// Timestamps are stored as Unix microseconds so that claim and lease
// predicates compare integers. SQLite serialises writers, so the
// UPDATE ... RETURNING claims are atomic without row locks.
package sqlite
