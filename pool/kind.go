package pool

import (
	"fmt"
	"strings"
)

// Kind identifies a pool strategy.
type Kind int

const (
	// KindSingle is one connection, no locking.
	KindSingle Kind = iota
	// KindShardedSingle is one connection per shard, no locking.
	KindShardedSingle
	// KindThreaded is a bounded, goroutine-safe pool that waits on a waiter list.
	KindThreaded
	// KindShardedThreaded is KindThreaded with an independent sub-pool per shard.
	KindShardedThreaded
	// KindTimedQueue is a bounded, goroutine-safe pool built on a buffered channel.
	KindTimedQueue
	// KindShardedTimedQueue is KindTimedQueue with an independent queue per shard.
	KindShardedTimedQueue
)

var kindNames = map[Kind]string{
	KindSingle:            "single",
	KindShardedSingle:     "sharded_single",
	KindThreaded:          "threaded",
	KindShardedThreaded:   "sharded_threaded",
	KindTimedQueue:        "timed_queue",
	KindShardedTimedQueue: "sharded_timed_queue",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sharded reports whether pools of this kind manage several shards.
func (k Kind) Sharded() bool {
	switch k {
	case KindShardedSingle, KindShardedThreaded, KindShardedTimedQueue:
		return true
	}
	return false
}

// Threaded reports whether pools of this kind are safe for concurrent use.
func (k Kind) Threaded() bool {
	return k != KindSingle && k != KindShardedSingle
}

// ParseKind converts a configuration string into a Kind.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// SelectKind maps the two classic switches onto one of the four core strategies.
func SelectKind(threaded, sharded bool) Kind {
	switch {
	case threaded && sharded:
		return KindShardedThreaded
	case threaded:
		return KindThreaded
	case sharded:
		return KindShardedSingle
	default:
		return KindSingle
	}
}

// kindFor resolves the strategy a configuration asks for.
func kindFor(cfg Config) (Kind, error) {
	if cfg.Kind != "" {
		return ParseKind(cfg.Kind)
	}
	return SelectKind(!cfg.SingleThreaded, cfg.isSharded()), nil
}
