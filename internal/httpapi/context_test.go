package httpapi

import (
	"context"
	"testing"
	"time"
)

type ctxKey string

func waitDone(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not canceled")
	}
}

func TestJoinContextsCancelsOnBase(t *testing.T) {
	base, cancelBase := context.WithCancel(context.Background())
	joined, cancel := joinContexts(base, context.Background())
	defer cancel()

	cancelBase()
	waitDone(t, joined)
}

func TestJoinContextsCancelsOnRequest(t *testing.T) {
	req, cancelReq := context.WithCancel(context.Background())
	joined, cancel := joinContexts(context.Background(), req)
	defer cancel()

	cancelReq()
	waitDone(t, joined)
}

func TestJoinContextsKeepsRequestValues(t *testing.T) {
	req := context.WithValue(context.Background(), ctxKey("rid"), "abc123")
	joined, cancel := joinContexts(context.Background(), req)
	defer cancel()

	if got := joined.Value(ctxKey("rid")); got != "abc123" {
		t.Fatalf("request value lost: %v", got)
	}
}

func TestJoinContextsCancelFuncReleases(t *testing.T) {
	joined, cancel := joinContexts(context.Background(), context.Background())
	cancel()
	waitDone(t, joined)
}
