package meeting

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ent0n29/meetbridge/internal/apperr"
	"github.com/ent0n29/meetbridge/internal/logging"
)

func TestInMemoryUnknownMeetingUsesDefaultAgent(t *testing.T) {
	c := NewInMemoryCatalog()
	a, err := c.Agent(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Agent() error = %v", err)
	}
	if a != DefaultAgent {
		t.Fatalf("agent = %+v, want default", a)
	}
}

func TestInMemoryUpsertAndStatus(t *testing.T) {
	c := NewInMemoryCatalog()
	ctx := context.Background()
	if err := c.Upsert(ctx, Meeting{ID: "m1", Agent: Agent{Name: "Ada"}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	a, _ := c.Agent(ctx, "m1")
	if a.Name != "Ada" || a.Instructions != DefaultAgent.Instructions {
		t.Fatalf("agent = %+v, want name Ada with default instructions", a)
	}

	if err := c.SetStatus(ctx, "m1", StatusActive); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	m, ok := c.Get("m1")
	if !ok || m.Status != StatusActive || m.Agent.Name != "Ada" {
		t.Fatalf("meeting = %+v", m)
	}

	if err := c.SetStatus(ctx, "m1", Status("archived")); !apperr.IsCode(err, apperr.CodeInvalidArgument) {
		t.Fatalf("SetStatus(archived) err = %v", err)
	}
	if err := c.Upsert(ctx, Meeting{}); !apperr.IsCode(err, apperr.CodeInvalidArgument) {
		t.Fatalf("Upsert(empty id) err = %v", err)
	}
}

type countingCatalog struct {
	*InMemoryCatalog
	agentCalls int
}

func (c *countingCatalog) Agent(ctx context.Context, meetingID string) (Agent, error) {
	c.agentCalls++
	return c.InMemoryCatalog.Agent(ctx, meetingID)
}

func TestCachedCatalogDegradesWhenRedisIsDown(t *testing.T) {
	inner := &countingCatalog{InMemoryCatalog: NewInMemoryCatalog()}
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewCachedCatalog(inner, rdb, time.Minute, logging.Discard())
	defer c.Close()

	ctx := context.Background()
	if err := c.Upsert(ctx, Meeting{ID: "m1", Agent: Agent{Name: "Ada", Instructions: "Be brief."}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	a, err := c.Agent(ctx, "m1")
	if err != nil {
		t.Fatalf("Agent() error = %v", err)
	}
	if a.Name != "Ada" || a.Instructions != "Be brief." {
		t.Fatalf("agent = %+v", a)
	}
	if inner.agentCalls != 1 {
		t.Fatalf("inner calls = %d, want 1", inner.agentCalls)
	}
	if err := c.SetStatus(ctx, "m1", StatusProcessing); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
}
