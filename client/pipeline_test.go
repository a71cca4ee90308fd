package client

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/cosmez/rediskit/resp"
)

func TestPipeline_Order(t *testing.T) {
	srv := newMemServer()
	c := newTestClient(t, srv, Options{})
	ctx := context.Background()

	p := c.Pipeline(false).
		Queue("SET", "a", "1").
		Queue("INCR", "a").
		Queue("BOGUS").
		Queue("GET", "a")
	if p.Len() != 4 {
		t.Fatalf("Len = %d", p.Len())
	}

	results, err := p.Execute(ctx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Value != true || results[1].Value != int64(2) {
		t.Errorf("unexpected results %+v", results[:2])
	}
	if se := asServerError(t, results[2].Err); se.Code != "ERR" {
		t.Errorf("BOGUS error = %v", se)
	}
	if !reflect.DeepEqual(results[3].Value, []byte("2")) {
		t.Errorf("GET = %#v", results[3].Value)
	}

	if p.Len() != 0 {
		t.Error("queue must be empty after Execute")
	}
	if srv.dialCount() != 1 {
		t.Errorf("pipeline must use a single connection, dialed %d", srv.dialCount())
	}
}

func TestPipeline_Empty(t *testing.T) {
	c := newTestClient(t, newMemServer(), Options{})
	results, err := c.Pipeline(true).Execute(context.Background())
	if err != nil || results != nil {
		t.Errorf("empty pipeline = %v, %v", results, err)
	}
}

func TestPipeline_Transaction(t *testing.T) {
	srv := newMemServer()
	c := newTestClient(t, srv, Options{})

	results, err := c.Pipeline(true).
		Queue("SET", "a", "10").
		Queue("INCR", "a").
		Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if results[0].Value != true || results[1].Value != int64(11) {
		t.Errorf("results = %+v", results)
	}

	want := []string{"MULTI", "SET a 10", "INCR a", "EXEC"}
	if got := srv.commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("server saw %v, want %v", got, want)
	}
}

func TestPipeline_WatchAborted(t *testing.T) {
	srv := newMemServer()
	c := newTestClient(t, srv, Options{})
	ctx := context.Background()

	// Another writer touches the key between WATCH and MULTI.
	srv.setHook(func(args []string) (string, bool) {
		if args[0] == "MULTI" {
			srv.mu.Lock()
			srv.version["balance"]++
			srv.mu.Unlock()
		}
		return "", false
	})

	p := c.Pipeline(true).Watch("balance").Queue("SET", "balance", "0")
	_, err := p.Execute(ctx)
	if !errors.Is(err, ErrTxAborted) {
		t.Fatalf("expected ErrTxAborted, got %v", err)
	}
	if p.Len() != 0 {
		t.Error("queue must be drained after an aborted transaction")
	}

	srv.setHook(nil)
	if _, err := c.Pipeline(true).Watch("balance").Queue("SET", "balance", "0").Execute(ctx); err != nil {
		t.Errorf("unmodified watch should commit: %v", err)
	}
	if got := srv.commands()[0]; got != "WATCH balance" {
		t.Errorf("first command = %q, want WATCH", got)
	}
}

func TestPipeline_ExecAbort(t *testing.T) {
	srv := newMemServer()
	c := newTestClient(t, srv, Options{})

	results, err := c.Pipeline(true).
		Queue("SET", "a", "1").
		Queue("NOSUCH", "a").
		Execute(context.Background())

	se := asServerError(t, err)
	if se.Kind != resp.KindExecAbort {
		t.Errorf("kind = %v, want execabort", se.Kind)
	}
	if len(results) != 2 || results[0].Err != nil || results[1].Err == nil {
		t.Errorf("expected the queueing error on the second command, got %+v", results)
	}
	srv.mu.Lock()
	_, stored := srv.strs["a"]
	srv.mu.Unlock()
	if stored {
		t.Error("aborted transaction must not apply commands")
	}
}

func TestPipeline_InvalidArgument(t *testing.T) {
	srv := newMemServer()
	c := newTestClient(t, srv, Options{})
	ctx := context.Background()

	p := c.Pipeline(false).Queue("SET", "a", "1").Queue("SET", "b", struct{}{})
	if _, err := p.Execute(ctx); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if p.Len() != 0 {
		t.Error("queue must be drained after a failure")
	}
	if len(srv.commands()) != 0 {
		t.Errorf("nothing should be sent, server saw %v", srv.commands())
	}

	if _, err := c.Pipeline(false).Queue("PING").Execute(ctx); err != nil {
		t.Errorf("connection should stay usable: %v", err)
	}
}

func TestPipeline_CallbackBoundAtQueueTime(t *testing.T) {
	c := newTestClient(t, newMemServer(), Options{})

	p := c.Pipeline(false).Queue("PING")
	c.Callbacks().Set("PING", func(r resp.Reply) (any, error) { return "changed", nil })

	results, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if results[0].Value != true {
		t.Errorf("PING = %#v, want the callback registered when queued", results[0].Value)
	}
}
