package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newMemorySignal() *CollaborativeSignal {
	return NewCollaborativeSignal(nil, nil, time.Minute, testLogger())
}

func TestCollaborativeSignal_EmptyWindowIsZero(t *testing.T) {
	collab := newMemorySignal()
	assert.Zero(t, collab.Signal(context.Background(), "session-1", itemA))
}

func TestCollaborativeSignal_CoOccurrence(t *testing.T) {
	collab := newMemorySignal()
	ctx := context.Background()

	// Two sessions both touch A and B; a third touches only A.
	collab.Record(ctx, "s1", itemA)
	collab.Record(ctx, "s1", itemB)
	collab.Record(ctx, "s2", itemA)
	collab.Record(ctx, "s2", itemB)
	collab.Record(ctx, "s3", itemA)

	// From s3's view: B co-occurs with A in 2 of 3 interactions with A,
	// and B itself was touched twice. Jaccard = 2 / (3 + 2 - 2).
	signal := collab.Signal(ctx, "s3", itemB)
	assert.InDelta(t, 2.0/3.0, signal, 1e-9)

	// An item nothing co-occurs with scores zero.
	assert.Zero(t, collab.Signal(ctx, "s3", itemC))
}

func TestCollaborativeSignal_SignalBounds(t *testing.T) {
	collab := newMemorySignal()
	ctx := context.Background()

	sessions := []string{"s1", "s2", "s3", "s4"}
	for _, session := range sessions {
		collab.Record(ctx, session, itemA)
		collab.Record(ctx, session, itemB)
		collab.Record(ctx, session, itemC)
	}

	for _, session := range sessions {
		signal := collab.Signal(ctx, session, itemD)
		assert.GreaterOrEqual(t, signal, 0.0)
		assert.LessOrEqual(t, signal, 1.0)

		perfect := collab.Signal(ctx, session, itemB)
		assert.LessOrEqual(t, perfect, 1.0)
	}
}

func TestCollaborativeSignal_DuplicateRecordIgnored(t *testing.T) {
	collab := newMemorySignal()
	ctx := context.Background()

	collab.Record(ctx, "s1", itemA)
	collab.Record(ctx, "s1", itemA)
	collab.Record(ctx, "s1", itemB)

	collab.Record(ctx, "s2", itemA)
	collab.Record(ctx, "s2", itemB)

	// A was recorded once per session despite the duplicate.
	signal := collab.Signal(ctx, "s2", itemA)
	assert.LessOrEqual(t, signal, 1.0)

	collab.mu.RLock()
	assert.Equal(t, 2, collab.itemCounts[itemA])
	collab.mu.RUnlock()
}

func TestPairKey_OrderIndependent(t *testing.T) {
	assert.Equal(t, pairKey(itemA, itemB), pairKey(itemB, itemA))
	assert.NotEqual(t, pairKey(itemA, itemB), pairKey(itemA, itemC))
}
