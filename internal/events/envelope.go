// Package events defines the durable event envelope published by the
// engine and the Publisher interface consumers subscribe through. The
// concrete transport (go-micro's broker.Broker, adapted from the
// teacher's internal/events/broker.go) lives alongside this file.
package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Kind identifies one of the five event kinds the engine emits.
type Kind string

const (
	KindOrderAccepted  Kind = "order_accepted"
	KindTradeExecuted  Kind = "trade_executed"
	KindOrderCancelled Kind = "order_cancelled"
	KindOrderDone      Kind = "order_done"
	KindBalanceChanged Kind = "balance_changed"

	// KindDeadLettered is not one of the five engine-emitted kinds: the
	// trade consumer (internal/consumer) republishes an event under this
	// kind, on its own per-pair partition, once its retry budget is
	// exhausted (spec §4.8's "dead-letter partition").
	KindDeadLettered Kind = "dead_lettered"
)

// SchemaVersion is the wire schema version stamped on every envelope.
const SchemaVersion = 1

// Envelope is the wire-level event record. Monetary fields in Payload
// are decimal strings (see internal/decimal) to avoid binary-float
// drift across the wire, per spec §6.
type Envelope struct {
	SchemaVersion  int
	EngineInstance string
	Offset         uint64
	Pair           string
	Kind           Kind
	Payload        map[string]string
}

// Publisher publishes an Envelope to its per-pair, per-kind topic with
// at-least-once delivery. Consumers are responsible for idempotence
// (see internal/consumer).
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Topic returns the logical topic name for one (kind, pair) partition,
// e.g. "trade-executed-sol". pairBase may also be a full "BASE/QUOTE"
// pair string; only the part before the slash names the topic.
func Topic(kind Kind, pairBase string) string {
	if i := strings.IndexByte(pairBase, '/'); i >= 0 {
		pairBase = pairBase[:i]
	}
	return fmt.Sprintf("%s-%s", strings.ReplaceAll(string(kind), "_", "-"), strings.ToLower(pairBase))
}

// OffsetAllocator hands out monotonically increasing per-partition
// offsets, keyed by topic.
type OffsetAllocator struct {
	mu      sync.Mutex
	offsets map[string]*uint64
}

// NewOffsetAllocator creates an empty allocator.
func NewOffsetAllocator() *OffsetAllocator {
	return &OffsetAllocator{offsets: make(map[string]*uint64)}
}

// Next returns the next offset for topic, starting at 0.
func (a *OffsetAllocator) Next(topic string) uint64 {
	a.mu.Lock()
	ctr, ok := a.offsets[topic]
	if !ok {
		ctr = new(uint64)
		a.offsets[topic] = ctr
	}
	a.mu.Unlock()
	return atomic.AddUint64(ctr, 1) - 1
}

// NewEngineInstanceID mints a fresh engine-instance identifier, stamped
// on every envelope this process publishes.
func NewEngineInstanceID() string {
	return uuid.New().String()
}
