package core

import (
	"container/list"
	"fmt"
)

// DBIdempotencyChecker is the cold-path dedup lookup, backed by the
// event log in Postgres.
type DBIdempotencyChecker interface {
	IsDuplicate(actionType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker deduplicates actions across two tiers: an in-memory
// LRU of composite keys, then the database for anything the LRU aged out.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *IdempotencyMetrics
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   NewIdempotencyMetrics(),
	}
}

func compositeKey(actionType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", actionType, idempotencyKey)
}

// IsDuplicate reports whether the action was already processed. A failed
// database lookup counts as not-a-duplicate so processing never blocks on
// the cold tier.
func (ic *IdempotencyChecker) IsDuplicate(actionType string, idempotencyKey string) bool {
	key := compositeKey(actionType, idempotencyKey)

	if ic.lru.Contains(key) {
		ic.metrics.RecordDuplicate(actionType, "lru")
		return true
	}

	if ic.dbChecker == nil {
		return false
	}
	isDup, err := ic.dbChecker.IsDuplicate(actionType, idempotencyKey)
	if err != nil {
		ic.metrics.RecordTier2Error()
		return false
	}
	if isDup {
		// Cache the hit so the next replay stays off the database.
		ic.lru.Add(key)
		ic.metrics.RecordDuplicate(actionType, "postgres")
	}
	return isDup
}

// MarkProcessed records a successfully applied action in the hot tier.
func (ic *IdempotencyChecker) MarkProcessed(actionType string, idempotencyKey string) {
	ic.lru.Add(compositeKey(actionType, idempotencyKey))
}

func (ic *IdempotencyChecker) GetMetrics() *IdempotencyMetrics {
	return ic.metrics
}

// IdempotencyLRU is a capacity-bounded set of composite keys with LRU
// eviction. Not thread-safe; only the engine goroutine touches it.
type IdempotencyLRU struct {
	capacity  int
	elems     map[string]*list.Element
	order     *list.List
	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		elems:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Contains reports membership and refreshes the key's recency.
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, ok := lru.elems[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

// Add inserts the key, evicting the least recently used entry when full.
func (lru *IdempotencyLRU) Add(key string) {
	if elem, ok := lru.elems[key]; ok {
		lru.order.MoveToFront(elem)
		return
	}
	lru.insert(key)
}

// WarmFromKeys preloads recent composite keys, typically read back from
// the event log after a restart.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		if _, ok := lru.elems[key]; ok {
			continue
		}
		lru.insert(key)
	}
}

func (lru *IdempotencyLRU) insert(key string) {
	lru.elems[key] = lru.order.PushFront(key)
	if lru.order.Len() > lru.capacity {
		oldest := lru.order.Back()
		lru.order.Remove(oldest)
		delete(lru.elems, oldest.Value.(string))
		lru.evictions++
	}
}

func (lru *IdempotencyLRU) Size() int {
	return lru.order.Len()
}

func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}

// IdempotencyMetrics counts dedup hits per tier. Not thread-safe; only
// the engine goroutine touches it.
type IdempotencyMetrics struct {
	duplicatesLRU      map[string]int64
	duplicatesPostgres map[string]int64
	tier2Errors        int64
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return &IdempotencyMetrics{
		duplicatesLRU:      make(map[string]int64),
		duplicatesPostgres: make(map[string]int64),
	}
}

func (m *IdempotencyMetrics) RecordDuplicate(actionType string, tier string) {
	if tier == "lru" {
		m.duplicatesLRU[actionType]++
	} else {
		m.duplicatesPostgres[actionType]++
	}
}

func (m *IdempotencyMetrics) RecordTier2Error() {
	m.tier2Errors++
}

func (m *IdempotencyMetrics) GetDuplicates(actionType string) (lru int64, postgres int64) {
	return m.duplicatesLRU[actionType], m.duplicatesPostgres[actionType]
}

func (m *IdempotencyMetrics) GetTier2Errors() int64 {
	return m.tier2Errors
}
