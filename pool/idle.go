package pool

// idleList holds idle connections of one shard. In queue mode the connection
// idle the longest is reused first; in stack mode the most recent one is.
type idleList[C comparable] struct {
	conns []C
	stack bool
}

func newIdleList[C comparable](handling string) idleList[C] {
	return idleList[C]{stack: handling == ConnectionHandlingStack}
}

func (l *idleList[C]) len() int { return len(l.conns) }

func (l *idleList[C]) push(conn C) {
	l.conns = append(l.conns, conn)
}

func (l *idleList[C]) pop() (C, bool) {
	var zero C
	n := len(l.conns)
	if n == 0 {
		return zero, false
	}
	var conn C
	if l.stack {
		conn = l.conns[n-1]
		l.conns[n-1] = zero
		l.conns = l.conns[:n-1]
	} else {
		conn = l.conns[0]
		l.conns[0] = zero
		l.conns = l.conns[1:]
	}
	return conn, true
}

// drain empties the list and returns what it held.
func (l *idleList[C]) drain() []C {
	conns := l.conns
	l.conns = nil
	return conns
}

func (l *idleList[C]) each(fn func(C) error) error {
	for _, conn := range l.conns {
		if err := fn(conn); err != nil {
			return err
		}
	}
	return nil
}
