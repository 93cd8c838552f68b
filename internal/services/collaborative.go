package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// recentWindow bounds how many of a session's latest items anchor the
// collaborative lookup.
const recentWindow = 20

// CollaborativeSignal computes the co-interaction component of the hybrid
// score: how strongly a candidate co-occurs with the items this session
// recently touched, as a Jaccard overlap of interacting sessions. Backed by
// the neo4j interaction graph when available, with an in-memory
// co-occurrence index as fallback, and a warm-redis cache in front.
type CollaborativeSignal struct {
	graph  neo4j.DriverWithContext
	cache  *redis.Client
	ttl    time.Duration
	logger *logrus.Logger

	mu         sync.RWMutex
	recent     map[string][]uuid.UUID
	coCounts   map[string]int
	itemCounts map[uuid.UUID]int
}

func NewCollaborativeSignal(graph neo4j.DriverWithContext, cache *redis.Client, ttl time.Duration, logger *logrus.Logger) *CollaborativeSignal {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &CollaborativeSignal{
		graph:      graph,
		cache:      cache,
		ttl:        ttl,
		logger:     logger,
		recent:     make(map[string][]uuid.UUID),
		coCounts:   make(map[string]int),
		itemCounts: make(map[uuid.UUID]int),
	}
}

// Record folds one interaction into the co-occurrence state: the item joins
// the session's recent window and pairs with everything already in it. Also
// mirrored into the graph when neo4j is configured.
func (c *CollaborativeSignal) Record(ctx context.Context, sessionID string, itemID uuid.UUID) {
	c.mu.Lock()
	window := c.recent[sessionID]
	already := false
	for _, id := range window {
		if id == itemID {
			already = true
			break
		}
	}
	if !already {
		c.itemCounts[itemID]++
		for _, other := range window {
			c.coCounts[pairKey(itemID, other)]++
		}
		window = append(window, itemID)
		if len(window) > recentWindow {
			window = window[len(window)-recentWindow:]
		}
		c.recent[sessionID] = window
	}
	c.mu.Unlock()

	if c.graph != nil && !already {
		if err := c.recordInGraph(ctx, sessionID, itemID); err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"session_id": sessionID,
				"item_id":    itemID,
			}).Warn("Failed to record interaction in graph")
		}
	}
}

// Signal returns the candidate's collaborative score in [0, 1] for a
// session: the strongest Jaccard overlap between the candidate and any of
// the session's recent items.
func (c *CollaborativeSignal) Signal(ctx context.Context, sessionID string, candidate uuid.UUID) float64 {
	c.mu.RLock()
	window := append([]uuid.UUID(nil), c.recent[sessionID]...)
	c.mu.RUnlock()
	if len(window) == 0 {
		return 0
	}

	if cached, ok := c.cachedSignal(ctx, sessionID, candidate); ok {
		return cached
	}

	var signal float64
	if c.graph != nil {
		if s, err := c.graphSignal(ctx, candidate, window); err == nil {
			signal = s
		} else {
			c.logger.WithError(err).Debug("Graph signal query failed, using in-memory index")
			signal = c.memorySignal(candidate, window)
		}
	} else {
		signal = c.memorySignal(candidate, window)
	}

	c.cacheSignal(ctx, sessionID, candidate, signal)
	return signal
}

func (c *CollaborativeSignal) memorySignal(candidate uuid.UUID, window []uuid.UUID) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best float64
	for _, recent := range window {
		if recent == candidate {
			continue
		}
		co := c.coCounts[pairKey(candidate, recent)]
		if co == 0 {
			continue
		}
		union := c.itemCounts[candidate] + c.itemCounts[recent] - co
		if union <= 0 {
			continue
		}
		if j := float64(co) / float64(union); j > best {
			best = j
		}
	}
	return best
}

// graphSignal asks neo4j for the best Jaccard overlap of interacting
// sessions between the candidate and the window items.
func (c *CollaborativeSignal) graphSignal(ctx context.Context, candidate uuid.UUID, window []uuid.UUID) (float64, error) {
	session := c.graph.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (a:Item {id: $candidate})<-[:INTERACTED_WITH]-(s:Session)-[:INTERACTED_WITH]->(b:Item)
		WHERE b.id IN $window
		WITH b, count(DISTINCT s) AS co
		MATCH (a:Item {id: $candidate})<-[:INTERACTED_WITH]-(sa:Session)
		WITH b, co, count(DISTINCT sa) AS ca
		MATCH (b)<-[:INTERACTED_WITH]-(sb:Session)
		WITH co, ca, count(DISTINCT sb) AS cb
		RETURN max(toFloat(co) / (ca + cb - co)) AS jaccard
	`

	windowIDs := make([]string, len(window))
	for i, id := range window {
		windowIDs[i] = id.String()
	}

	result, err := session.Run(ctx, query, map[string]interface{}{
		"candidate": candidate.String(),
		"window":    windowIDs,
	})
	if err != nil {
		return 0, err
	}

	if result.Next(ctx) {
		if raw, ok := result.Record().Get("jaccard"); ok && raw != nil {
			if j, ok := raw.(float64); ok {
				return clamp01(j), nil
			}
		}
	}
	return 0, result.Err()
}

func (c *CollaborativeSignal) recordInGraph(ctx context.Context, sessionID string, itemID uuid.UUID) error {
	session := c.graph.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (s:Session {id: $session_id})
		MERGE (i:Item {id: $item_id})
		MERGE (s)-[r:INTERACTED_WITH]->(i)
		ON CREATE SET r.first_at = datetime()
		SET r.last_at = datetime()
	`
	_, err := session.Run(ctx, query, map[string]interface{}{
		"session_id": sessionID,
		"item_id":    itemID.String(),
	})
	return err
}

func (c *CollaborativeSignal) cachedSignal(ctx context.Context, sessionID string, candidate uuid.UUID) (float64, bool) {
	if c.cache == nil {
		return 0, false
	}
	raw, err := c.cache.Get(ctx, collabCacheKey(sessionID, candidate)).Result()
	if err != nil {
		return 0, false
	}
	s, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return s, true
}

func (c *CollaborativeSignal) cacheSignal(ctx context.Context, sessionID string, candidate uuid.UUID, signal float64) {
	if c.cache == nil {
		return
	}
	c.cache.Set(ctx, collabCacheKey(sessionID, candidate),
		strconv.FormatFloat(signal, 'f', 6, 64), c.ttl)
}

func collabCacheKey(sessionID string, candidate uuid.UUID) string {
	return fmt.Sprintf("collab:%s:%s", sessionID, candidate)
}

// pairKey builds an order-independent key for an item pair.
func pairKey(a, b uuid.UUID) string {
	as, bs := a.String(), b.String()
	if as > bs {
		as, bs = bs, as
	}
	return as + "|" + bs
}
