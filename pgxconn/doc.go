// Package pgxconn plugs native pgx connections into the pool and transaction
// packages, without database/sql in between.
//
//	conns, err := pgxconn.NewConnector(map[string]string{
//	    pool.DefaultShard: "postgres://app@db-0/app",
//	    "eu":              "postgres://app@db-eu/app",
//	})
//	p, err := pool.New(pool.Config{Sharded: true, Servers: servers}, conns.Connect, pgxconn.Disconnect)
//	m := transaction.NewManager(p, pgxconn.Exec)
package pgxconn
