package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asjoyner/wormhole/wire"
)

func TestSubmitAndReply(t *testing.T) {
	b := New(4, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx, func(ctx context.Context, req Request) (wire.Message, error) {
		return &wire.Pong{Timestamp: 42}, nil
	})

	replyCh, err := b.Submit(context.Background(), &wire.Ping{Timestamp: 42})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case r := <-replyCh:
		if r.Err != nil {
			t.Fatalf("reply error: %v", r.Err)
		}
		pong, ok := r.Message.(*wire.Pong)
		if !ok || pong.Timestamp != 42 {
			t.Fatalf("unexpected reply %#v", r.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestSubmitPropagatesHandlerError(t *testing.T) {
	b := New(4, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wantErr := errors.New("boom")
	go b.Run(ctx, func(ctx context.Context, req Request) (wire.Message, error) {
		return nil, wantErr
	})

	replyCh, err := b.Submit(context.Background(), &wire.Ping{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	r := <-replyCh
	if r.Err == nil || r.Err.Error() != wantErr.Error() {
		t.Fatalf("reply err = %v, want %v", r.Err, wantErr)
	}
}

func TestSubmitTimesOutWhileHandlerRuns(t *testing.T) {
	b := New(1, time.Millisecond)
	dispatched := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx, func(ctx context.Context, req Request) (wire.Message, error) {
		dispatched <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	replyCh, err := b.Submit(context.Background(), &wire.Ping{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case r := <-replyCh:
		if r.Err == nil {
			t.Fatal("expected a timeout error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
	<-dispatched
}

func TestCancellationDropsReplyWithoutHandlerCommit(t *testing.T) {
	b := New(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handlerDone := make(chan struct{})
	go b.Run(ctx, func(ctx context.Context, req Request) (wire.Message, error) {
		time.Sleep(50 * time.Millisecond)
		close(handlerDone)
		return &wire.Pong{}, nil
	})

	callCtx, callCancel := context.WithCancel(context.Background())
	replyCh, err := b.Submit(callCtx, &wire.Ping{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	callCancel()

	<-handlerDone
	select {
	case r, ok := <-replyCh:
		if ok {
			t.Fatalf("expected no reply to be committed after cancellation, got %#v", r)
		}
	case <-time.After(200 * time.Millisecond):
		// No reply arrived, as expected; the handler's result was discarded.
	}
}

func TestQueueFullBlocksSubmit(t *testing.T) {
	b := New(1, time.Second)
	// No Run loop consuming, so the first Submit fills the only slot and
	// the second must block until ctx expires.
	if _, err := b.Submit(context.Background(), &wire.Ping{}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := b.Submit(ctx, &wire.Ping{}); err == nil {
		t.Fatal("expected second Submit to block until context deadline given a full queue")
	}
}
