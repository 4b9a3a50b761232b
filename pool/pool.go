package pool

// New builds the pool strategy selected by cfg: Config.Kind when set,
// otherwise SelectKind(!cfg.SingleThreaded, cfg.Sharded || len(cfg.Servers) > 0).
func New[C comparable](cfg Config, connect ConnectFunc[C], disconnect DisconnectFunc[C], opts ...Option) (Pool[C], error) {
	kind, err := kindFor(cfg)
	if err != nil {
		return nil, err
	}

	var p Pool[C]
	switch kind {
	case KindSingle:
		p, err = asPool[C](NewSinglePool(cfg, connect, disconnect, opts...))
	case KindShardedSingle:
		p, err = asPool[C](NewShardedSinglePool(cfg, connect, disconnect, opts...))
	case KindThreaded:
		p, err = asPool[C](NewThreadedPool(cfg, connect, disconnect, opts...))
	case KindShardedThreaded:
		p, err = asPool[C](NewShardedThreadedPool(cfg, connect, disconnect, opts...))
	case KindTimedQueue:
		p, err = asPool[C](NewTimedQueuePool(cfg, connect, disconnect, opts...))
	case KindShardedTimedQueue:
		p, err = asPool[C](NewShardedTimedQueuePool(cfg, connect, disconnect, opts...))
	default:
		return nil, ErrUnknownKind
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func asPool[C comparable, P Pool[C]](p P, err error) (Pool[C], error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}

var (
	_ Pool[int] = (*SinglePool[int])(nil)
	_ Pool[int] = (*ShardedSinglePool[int])(nil)
	_ Pool[int] = (*ThreadedPool[int])(nil)
	_ Pool[int] = (*TimedQueuePool[int])(nil)
)
