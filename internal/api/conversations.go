package api

import (
	"sync"
	"time"

	ttlcache "github.com/jellydator/ttlcache/v2"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/llm"
)

const defaultMaxHistory = 40

// Conversations keeps the message history of each conversation between
// turns. Histories are trimmed to the most recent messages, starting at
// a user message.
type Conversations struct {
	mu    sync.Mutex
	cache *ttlcache.Cache
	limit int
}

// NewConversations creates a store. Zero ttl keeps conversations until
// deleted; limit <= 0 uses the default cap.
func NewConversations(ttl time.Duration, limit int) *Conversations {
	if limit <= 0 {
		limit = defaultMaxHistory
	}
	cache := ttlcache.NewCache()
	_ = cache.SetTTL(ttl)
	return &Conversations{cache: cache, limit: limit}
}

// Get returns a copy of the history of id.
func (c *Conversations) Get(id string) []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.cache.Get(id)
	if err != nil {
		return nil
	}
	msgs, _ := v.([]llm.Message)
	return append([]llm.Message(nil), msgs...)
}

// Put replaces the history of id, trimming it to the cap.
func (c *Conversations) Put(id string, msgs []llm.Message) {
	msgs = trimHistory(msgs, c.limit)
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.cache.Set(id, msgs)
}

// Delete drops id and reports whether it existed.
func (c *Conversations) Delete(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Remove(id) == nil
}

// Close stops the expiry goroutine.
func (c *Conversations) Close() {
	_ = c.cache.Close()
}

// trimHistory keeps at most limit trailing messages. The kept slice starts
// at a user message so no tool result is left without its call.
func trimHistory(msgs []llm.Message, limit int) []llm.Message {
	if len(msgs) <= limit {
		return append([]llm.Message(nil), msgs...)
	}
	start := len(msgs) - limit
	for start < len(msgs) && msgs[start].Role != llm.RoleUser {
		start++
	}
	return append([]llm.Message(nil), msgs[start:]...)
}
