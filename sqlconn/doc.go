// Package sqlconn adapts database/sql to the pool and transaction packages.
//
// Connector.Connect and Disconnect plug into pool.New as the connect and
// disconnect callbacks, and Exec into transaction.NewManager:
//
//	conns, err := sqlconn.Open("pgx", map[string]string{pool.DefaultShard: dsn})
//	p, err := pool.New(cfg, conns.Connect, sqlconn.Disconnect)
//	m := transaction.NewManager(p, sqlconn.Exec)
package sqlconn
