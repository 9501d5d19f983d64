package breaker

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/meridian-commerce/backbone/internal/kvstore"
)

// KVMirror publishes breaker state transitions to the shared KV so every
// replica's dashboard agrees on a downstream's state. It is advisory
// only: the admission decision always runs on replica-local state, so a
// KV outage degrades cross-replica visibility, never availability.
type KVMirror struct {
	store   kvstore.Store
	replica string
	ttl     time.Duration
}

// NewKVMirror constructs a KVMirror. replica names the publishing
// process so stale entries are attributable.
func NewKVMirror(store kvstore.Store, replica string) *KVMirror {
	return &KVMirror{store: store, replica: replica, ttl: 5 * time.Minute}
}

func stateKey(downstream string) string { return "breaker:state:" + downstream }

// Publish writes the transition; failures are logged and dropped.
func (m *KVMirror) Publish(ctx context.Context, downstream string, state State, openedAt time.Time) {
	value := state.String() + "|" + m.replica + "|" + strconv.FormatInt(openedAt.Unix(), 10)
	if err := m.store.Set(ctx, stateKey(downstream), value, m.ttl); err != nil {
		slog.Warn("breaker state mirror publish failed", "downstream", downstream, "error", err)
	}
}
