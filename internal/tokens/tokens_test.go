package tokens

import (
	"sync"
	"testing"

	"github.com/kalambet/campa/internal/llm"
)

func TestCounterAccumulates(t *testing.T) {
	c := NewCounter()
	c.Record("alice", llm.Usage{InputTokens: 100, OutputTokens: 40})
	c.Record("alice", llm.Usage{InputTokens: 50, OutputTokens: 10})
	c.Record("bob", llm.Usage{InputTokens: 30, OutputTokens: 5})

	if got := c.User("alice"); got.InputTokens != 150 || got.OutputTokens != 50 {
		t.Errorf("alice usage = %+v, want 150/50", got)
	}
	if got := c.User("bob"); got.InputTokens != 30 || got.OutputTokens != 5 {
		t.Errorf("bob usage = %+v, want 30/5", got)
	}

	total, queries := c.Totals()
	if total.InputTokens != 180 || total.OutputTokens != 55 {
		t.Errorf("total usage = %+v, want 180/55", total)
	}
	if queries != 3 {
		t.Errorf("queries = %d, want 3", queries)
	}
}

func TestCounterUnknownUserIsZero(t *testing.T) {
	c := NewCounter()
	if got := c.User("nobody"); got.InputTokens != 0 || got.OutputTokens != 0 {
		t.Errorf("unknown user usage = %+v, want zero", got)
	}
}

func TestCounterConcurrentRecords(t *testing.T) {
	c := NewCounter()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Record("alice", llm.Usage{InputTokens: 1, OutputTokens: 1})
			}
		}()
	}
	wg.Wait()

	total, queries := c.Totals()
	if total.InputTokens != 1000 || queries != 1000 {
		t.Errorf("total = %+v queries = %d, want 1000 each", total, queries)
	}
}
