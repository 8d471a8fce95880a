package roomclient

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSink struct {
	mu     sync.Mutex
	starts []time.Time
	chunks [][]byte
}

func (f *fakeSink) PlayAt(chunk []byte, start time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, start)
	f.chunks = append(f.chunks, chunk)
}

func (f *fakeSink) scheduled() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.starts...)
}

type fakeSource struct {
	ch      chan []byte
	failure error
	stopped bool
}

func (f *fakeSource) Start(ctx context.Context) (<-chan []byte, error) {
	if f.failure != nil {
		return nil, f.failure
	}
	return f.ch, nil
}

func (f *fakeSource) Stop() { f.stopped = true }

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestPlaybackGapless(t *testing.T) {
	sink := &fakeSink{}
	v := newVoice(func(string) {}, sink)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	v.now = func() time.Time { return now }
	v.Enable()

	// Three chunks arrive within the same instant: each must start when
	// the previous ends.
	v.HandleChunk(b64("a"))
	v.HandleChunk(b64("b"))
	v.HandleChunk(b64("c"))

	starts := sink.scheduled()
	if len(starts) != 3 {
		t.Fatalf("scheduled chunks = %d, want 3", len(starts))
	}
	for i, want := range []time.Time{
		base,
		base.Add(100 * time.Millisecond),
		base.Add(200 * time.Millisecond),
	} {
		if !starts[i].Equal(want) {
			t.Fatalf("chunk %d start = %v, want %v", i, starts[i], want)
		}
	}

	// After a stall the schedule snaps back to real time.
	now = base.Add(5 * time.Second)
	v.HandleChunk(b64("d"))
	starts = sink.scheduled()
	if !starts[3].Equal(now) {
		t.Fatalf("post-stall start = %v, want %v", starts[3], now)
	}
}

func TestPlaybackDisabledDropsChunks(t *testing.T) {
	sink := &fakeSink{}
	v := newVoice(func(string) {}, sink)

	v.HandleChunk(b64("ignored"))
	if len(sink.scheduled()) != 0 {
		t.Fatal("chunk played while disabled")
	}
}

func TestPlaybackBadChunkSkipped(t *testing.T) {
	sink := &fakeSink{}
	v := newVoice(func(string) {}, sink)
	v.Enable()

	v.HandleChunk("%%% not base64 %%%")
	v.HandleChunk(b64("good"))

	if n := len(sink.scheduled()); n != 1 {
		t.Fatalf("scheduled chunks = %d, want 1 (bad chunk skipped)", n)
	}
}

// reentrantSink calls back into Voice from PlayAt, as a real audio
// backend may when it reports state on its render thread.
type reentrantSink struct {
	v      *Voice
	played int
}

func (f *reentrantSink) PlayAt(chunk []byte, start time.Time) {
	_ = f.v.Enabled()
	f.v.Disable()
	f.played++
}

func TestPlaybackSinkMayReenter(t *testing.T) {
	sink := &reentrantSink{}
	v := newVoice(func(string) {}, sink)
	sink.v = v
	v.Enable()

	done := make(chan struct{})
	go func() {
		v.HandleChunk(b64("a"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleChunk blocked on a reentrant sink")
	}
	if sink.played != 1 {
		t.Fatalf("played = %d, want 1", sink.played)
	}
	if v.Enabled() {
		t.Fatal("Disable from the sink did not take effect")
	}
}

func TestRelayEncodesAndSends(t *testing.T) {
	var mu sync.Mutex
	var sent []string
	v := newVoice(func(chunk string) {
		mu.Lock()
		sent = append(sent, chunk)
		mu.Unlock()
	}, nil)

	src := &fakeSource{ch: make(chan []byte, 4)}
	src.ch <- []byte("pcm-1")
	src.ch <- nil // empty chunks are dropped
	src.ch <- []byte("pcm-2")
	close(src.ch)

	if err := v.StartRecording(context.Background(), src); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if !v.Enabled() || !v.Recording() {
		t.Fatal("recording must imply enabled")
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(sent)
		mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("relayed %d chunks, want 2", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if sent[0] != b64("pcm-1") || sent[1] != b64("pcm-2") {
		t.Fatalf("relayed chunks = %v", sent)
	}
}

func TestCaptureFailureRollsBack(t *testing.T) {
	v := newVoice(func(string) {}, nil)
	src := &fakeSource{failure: errors.New("mic busy")}

	if err := v.StartRecording(context.Background(), src); err == nil {
		t.Fatal("expected capture failure")
	}
	if v.Enabled() || v.Recording() {
		t.Fatal("voice not rolled back to disabled after capture failure")
	}
}

func TestDisableStopsCaptureFirst(t *testing.T) {
	v := newVoice(func(string) {}, nil)
	src := &fakeSource{ch: make(chan []byte)}

	if err := v.StartRecording(context.Background(), src); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	v.Disable()

	if !src.stopped {
		t.Fatal("capture source not released on disable")
	}
	if v.Enabled() || v.Recording() {
		t.Fatal("flags not cleared on disable")
	}
}
