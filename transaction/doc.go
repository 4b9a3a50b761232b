// Package transaction runs transactions, savepoints and two-phase commits on
// connections borrowed from a pool.
//
// A Manager pairs a pool.Pool with an Executor that runs a statement on a
// connection. Transaction holds a connection for the duration of the block:
//
//	m := transaction.NewManager(p, exec, transaction.WithDialect(transaction.MySQLDialect()))
//
//	err := m.Transaction(ctx, transaction.Options{}, func(ctx context.Context, conn *sql.Conn) error {
//	    if _, err := conn.ExecContext(ctx, "UPDATE accounts SET balance = balance - 10 WHERE id = 1"); err != nil {
//	        return err
//	    }
//	    return m.Transaction(ctx, transaction.Options{Savepoint: transaction.SavepointAlways},
//	        func(ctx context.Context, conn *sql.Conn) error {
//	            return audit(ctx, conn)
//	        })
//	})
//
// The context handed to the block carries the pool session, so nested calls
// made with it reach the same connection and see the open transaction.
// Savepoints are named autopoint_1, autopoint_2 and so on by depth.
//
// Returning ErrRollback rolls back without reporting an error. Options.RetryOn
// and Options.RetryIf re-run a failed transaction from the start on a fresh
// hold; IsSerializationFailure is a ready-made RetryIf.
package transaction
