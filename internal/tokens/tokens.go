// Package tokens aggregates model token usage in process. Persisted,
// per-query accounting lives in storage; this counter backs live status
// reporting without a database round trip.
package tokens

import (
	"sync"

	"github.com/kalambet/campa/internal/llm"
)

// Counter accumulates token usage per user and in total. Safe for
// concurrent use.
type Counter struct {
	mu      sync.Mutex
	perUser map[string]llm.Usage
	total   llm.Usage
	queries int64
}

// NewCounter creates an empty Counter.
func NewCounter() *Counter {
	return &Counter{perUser: make(map[string]llm.Usage)}
}

// Record adds one query's usage to the user's running totals.
func (c *Counter) Record(userID string, u llm.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.perUser[userID]
	cur.InputTokens += u.InputTokens
	cur.OutputTokens += u.OutputTokens
	c.perUser[userID] = cur
	c.total.InputTokens += u.InputTokens
	c.total.OutputTokens += u.OutputTokens
	c.queries++
}

// Totals returns the service-wide usage and the number of queries recorded.
func (c *Counter) Totals() (llm.Usage, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total, c.queries
}

// User returns the accumulated usage for one user.
func (c *Counter) User(userID string) llm.Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perUser[userID]
}
