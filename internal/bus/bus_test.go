package bus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func echo(_ context.Context, p []byte) ([]byte, error) { return p, nil }

func TestCallRegistered(t *testing.T) {
	b := New()
	b.Register("svc", echo)
	resp, err := b.Call(context.Background(), "svc", []byte("hi"))
	if err != nil || string(resp) != "hi" {
		t.Fatalf("call: %q %v", resp, err)
	}
}

func TestCallUnreachable(t *testing.T) {
	b := New()
	b.Register("svc", echo)
	b.Unregister("svc")
	_, err := b.Call(context.Background(), "svc", nil)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("got %v, want ErrUnreachable", err)
	}
	var nf *ErrServiceNotFound
	if !errors.As(err, &nf) || nf.Service != "svc" {
		t.Errorf("typed error: %v", err)
	}
}

func TestServicesPrefix(t *testing.T) {
	b := New()
	b.Register("zapelm.tab.2", echo)
	b.Register("zapelm.tab.1", echo)
	b.Register("zapelm.coordinator", echo)
	got := b.Services("zapelm.tab.")
	if len(got) != 2 || got[0] != "zapelm.tab.1" || got[1] != "zapelm.tab.2" {
		t.Errorf("services: %v", got)
	}
	if !b.Has("zapelm.coordinator") || b.Has("nope") {
		t.Error("Has")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New(WithMiddleware(Recovery(logger), Timeout(time.Second)))
	b.Register("boom", func(context.Context, []byte) ([]byte, error) { panic("bad") })
	_, err := b.Call(context.Background(), "boom", nil)
	var p *ErrPanic
	if !errors.As(err, &p) {
		t.Fatalf("got %v, want ErrPanic", err)
	}
}

func TestCancelledContext(t *testing.T) {
	b := New()
	b.Register("svc", echo)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Call(ctx, "svc", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
