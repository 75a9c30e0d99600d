package ws

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestLeave_AfterRunReturnedDoesNotBlock(t *testing.T) {
	h := NewHub(nil, "full", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		_ = h.Run(ctx)
		close(stopped)
	}()
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	left := make(chan struct{})
	go func() {
		h.leave(&client{hub: h, send: make(chan []byte, 1)})
		close(left)
	}()
	select {
	case <-left:
	case <-time.After(time.Second):
		t.Fatal("leave blocked after the hub stopped")
	}
}

func TestLeave_WhileRunningUnregisters(t *testing.T) {
	h := NewHub(nil, "full", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Run(ctx) }()

	c := &client{hub: h, send: make(chan []byte, 1), subs: map[string]bool{}}
	h.register <- c
	h.leave(c)

	select {
	case _, ok := <-c.send:
		if ok {
			t.Fatal("unexpected message on send channel")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed after leave")
	}
}
