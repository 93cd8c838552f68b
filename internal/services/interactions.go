package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/lodestone-io/lodestone/pkg/models"
)

// historyWindow bounds the in-memory per-session history ring.
const historyWindow = 100

// DatabaseExecutor is the write surface the log needs from a pgx pool.
type DatabaseExecutor interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// InteractionLog is the append-only record of user actions. Events land in
// an in-memory ring immediately and in postgres when configured; the ring
// makes history and training-corpus counts available without a database.
type InteractionLog struct {
	db     DatabaseExecutor
	logger *logrus.Logger

	mu         sync.RWMutex
	bySession  map[string][]*models.InteractionEvent
	itemCounts map[uuid.UUID]int
	total      int
}

func NewInteractionLog(db DatabaseExecutor, logger *logrus.Logger) *InteractionLog {
	return &InteractionLog{
		db:         db,
		logger:     logger,
		bySession:  make(map[string][]*models.InteractionEvent),
		itemCounts: make(map[uuid.UUID]int),
	}
}

// Append stores one event. The in-memory record always succeeds; a postgres
// failure is logged and reported but the event is not lost from the ring.
func (l *InteractionLog) Append(ctx context.Context, event *models.InteractionEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	l.mu.Lock()
	ring := append(l.bySession[event.SessionID], event)
	if len(ring) > historyWindow {
		ring = ring[len(ring)-historyWindow:]
	}
	l.bySession[event.SessionID] = ring
	l.itemCounts[event.ItemID]++
	l.total++
	l.mu.Unlock()

	if l.db != nil {
		if err := l.persist(ctx, event); err != nil {
			l.logger.WithError(err).WithFields(logrus.Fields{
				"session_id": event.SessionID,
				"item_id":    event.ItemID,
			}).Error("Failed to persist interaction")
			return err
		}
	}
	return nil
}

// History returns the session's most recent events, newest first.
func (l *InteractionLog) History(sessionID string, limit int) []*models.InteractionEvent {
	if limit <= 0 {
		limit = 20
	}

	l.mu.RLock()
	ring := l.bySession[sessionID]
	if limit > len(ring) {
		limit = len(ring)
	}
	out := make([]*models.InteractionEvent, limit)
	for i := 0; i < limit; i++ {
		out[i] = ring[len(ring)-1-i]
	}
	l.mu.RUnlock()
	return out
}

// Total returns the event count seen so far, the training corpus size for
// the interaction data type.
func (l *InteractionLog) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// ItemCounts returns a copy of the per-item interaction tallies feeding the
// popularity index.
func (l *InteractionLog) ItemCounts() map[uuid.UUID]int {
	l.mu.RLock()
	counts := make(map[uuid.UUID]int, len(l.itemCounts))
	for id, n := range l.itemCounts {
		counts[id] = n
	}
	l.mu.RUnlock()
	return counts
}

func (l *InteractionLog) persist(ctx context.Context, event *models.InteractionEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO interaction_events (id, session_id, item_id, interaction_type, weight, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = l.db.Exec(ctx, query,
		event.ID, event.SessionID, event.ItemID,
		event.Type, event.Weight, metadata, event.Timestamp)
	return err
}
