// Package redis implements queue.Store on Redis for high-throughput
// deployments. Each item is a Hash holding the encoded envelope and its
// mutable state; Sorted Sets index items by state. Claims, transitions and
// stale release run as Lua scripts, so each is atomic on the server.
//
// Redis carries the queue only. Schedules and webhooks need a relational
// store; an engine built on this store runs without them.
//
// The caller owns the client lifecycle -- redis never closes it:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
//
// Scripts touch item keys that are not declared up front, so the store
// requires a single Redis node or a proxy that pins the keyspace.
package redis
