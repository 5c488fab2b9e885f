package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/loykin/supervisr/internal/history"
)

func TestSinkRoundtrip(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	events := []history.Event{
		{Type: history.EventStart, OccurredAt: base, Service: "ticker", State: "running"},
		{Type: history.EventFailed, OccurredAt: base.Add(time.Second), Service: "ticker", State: "failed", Detail: "websocket dropped"},
		{Type: history.EventAutoRestart, OccurredAt: base.Add(2 * time.Second), Service: "ticker", State: "running", Restarts: 1},
		{Type: history.EventStop, OccurredAt: base.Add(3 * time.Second), Service: "ohlcv", State: "stopped"},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send %s: %v", e.Type, err)
		}
	}

	got, err := sink.Query(ctx, "ticker", 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 ticker events, got %d", len(got))
	}
	// Most recent first.
	if got[0].Type != history.EventAutoRestart || got[0].Restarts != 1 {
		t.Fatalf("unexpected first event %+v", got[0])
	}
	var sawDetail bool
	for _, e := range got {
		if e.Type == history.EventFailed && e.Detail == "websocket dropped" {
			sawDetail = true
		}
	}
	if !sawDetail {
		t.Fatalf("failure detail not persisted")
	}

	other, err := sink.Query(ctx, "ohlcv", 10)
	if err != nil {
		t.Fatalf("query ohlcv: %v", err)
	}
	if len(other) != 1 || other[0].Type != history.EventStop {
		t.Fatalf("unexpected ohlcv events %+v", other)
	}
}

func TestSinkQueryLimit(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e := history.Event{Type: history.EventStart, OccurredAt: time.Now().UTC(), Service: "account", State: "running"}
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	got, err := sink.Query(ctx, "account", 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("limit ignored, got %d", len(got))
	}
}
