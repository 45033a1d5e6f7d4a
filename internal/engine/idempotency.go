package engine

import (
	"container/list"
	"fmt"
)

// DBIdempotencyChecker is the cold-tier dedup lookup, backed by
// Postgres in production.
type DBIdempotencyChecker interface {
	IsDuplicate(commandType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker implements two-tier command deduplication: an
// in-memory LRU in front of the database. Not thread-safe; only the
// engine goroutine touches it.
type IdempotencyChecker struct {
	lru       *idempotencyLRU
	dbChecker DBIdempotencyChecker

	dbErrors int64
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       newIdempotencyLRU(capacity),
		dbChecker: dbChecker,
	}
}

// IsDuplicate checks whether the command has already been processed
func (ic *IdempotencyChecker) IsDuplicate(commandType, idempotencyKey string) bool {
	compositeKey := fmt.Sprintf("%s:%s", commandType, idempotencyKey)

	if ic.lru.contains(compositeKey) {
		return true
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(commandType, idempotencyKey)
		if err != nil {
			// A DB outage must not stall processing; treat as fresh and
			// rely on the event log's ON CONFLICT guard downstream.
			ic.dbErrors++
			return false
		}
		if isDup {
			ic.lru.add(compositeKey)
			return true
		}
	}

	return false
}

// MarkProcessed records the key after successful processing
func (ic *IdempotencyChecker) MarkProcessed(commandType, idempotencyKey string) {
	ic.lru.add(fmt.Sprintf("%s:%s", commandType, idempotencyKey))
}

// Warm preloads composite keys, typically the most recent rows from the
// idempotency table on restart.
func (ic *IdempotencyChecker) Warm(compositeKeys []string) {
	for _, key := range compositeKeys {
		ic.lru.add(key)
	}
}

// DBErrors returns the cold-tier failure count
func (ic *IdempotencyChecker) DBErrors() int64 {
	return ic.dbErrors
}

// Size returns the hot-tier entry count
func (ic *IdempotencyChecker) Size() int {
	return ic.lru.list.Len()
}

type idempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	list     *list.List
}

func newIdempotencyLRU(capacity int) *idempotencyLRU {
	return &idempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		list:     list.New(),
	}
}

func (lru *idempotencyLRU) contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.list.MoveToFront(elem)
		return true
	}
	return false
}

func (lru *idempotencyLRU) add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.list.MoveToFront(elem)
		return
	}

	elem := lru.list.PushFront(key)
	lru.cache[key] = elem

	if lru.list.Len() > lru.capacity {
		oldest := lru.list.Back()
		if oldest != nil {
			lru.list.Remove(oldest)
			delete(lru.cache, oldest.Value.(string))
		}
	}
}
