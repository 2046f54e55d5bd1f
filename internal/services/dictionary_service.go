package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"linguachat-backend/internal/db"
)

type DictionaryEntry struct {
	Term    string
	Meaning string
}

// DictionaryService serves the per-user term dictionary used to
// personalize mediation. Compiled dictionaries are memoized with a
// short TTL; any write invalidates the owner's entry synchronously so
// the next mediation never sees stale personalization.
type DictionaryService struct {
	budget int
	cache  *dictCache
}

func NewDictionaryService(budget int, ttl time.Duration) *DictionaryService {
	return &DictionaryService{
		budget: budget,
		cache:  newDictCache(ttl),
	}
}

// Compiled returns the user's dictionary as a single prompt-ready block.
func (s *DictionaryService) Compiled(ctx context.Context, userID int) (string, error) {
	if text, ok := s.cache.get(userID); ok {
		return text, nil
	}

	rows, err := db.Pool.Query(ctx,
		`SELECT term, meaning FROM dictionary_entries WHERE user_id = $1 ORDER BY created_at ASC`,
		userID)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var entries []DictionaryEntry
	for rows.Next() {
		var e DictionaryEntry
		if err := rows.Scan(&e.Term, &e.Meaning); err != nil {
			return "", err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	text := CompileEntries(entries, s.budget)
	s.cache.set(userID, text)
	return text, nil
}

// AddEntry inserts a dictionary entry and invalidates the owner's
// compiled cache before returning.
func (s *DictionaryService) AddEntry(ctx context.Context, userID int, term, meaning string) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO dictionary_entries (user_id, term, meaning) VALUES ($1, $2, $3)`,
		userID, term, meaning)
	if err != nil {
		return err
	}
	s.cache.invalidate(userID)
	return nil
}

// CompileEntries renders entries as "term = meaning" lines within a
// character budget. Oldest entries are kept; once the budget is
// exceeded later entries are dropped.
func CompileEntries(entries []DictionaryEntry, budget int) string {
	var b strings.Builder
	for _, e := range entries {
		line := e.Term + " = " + e.Meaning + "\n"
		if b.Len()+len(line) > budget {
			break
		}
		b.WriteString(line)
	}
	return strings.TrimRight(b.String(), "\n")
}

type dictCacheEntry struct {
	text    string
	expires time.Time
}

type dictCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[int]dictCacheEntry
}

func newDictCache(ttl time.Duration) *dictCache {
	return &dictCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int]dictCacheEntry),
	}
}

func (c *dictCache) get(userID int) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[userID]
	if !ok || c.now().After(e.expires) {
		return "", false
	}
	return e.text, true
}

func (c *dictCache) set(userID int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = dictCacheEntry{text: text, expires: c.now().Add(c.ttl)}
}

func (c *dictCache) invalidate(userID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}
