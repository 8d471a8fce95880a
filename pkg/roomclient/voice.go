package roomclient

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"
)

const voiceChunkDuration = 100 * time.Millisecond

// CaptureSource produces raw audio chunks, one every chunk interval,
// until its context is cancelled or Stop is called. Start fails when the
// underlying device cannot be acquired.
type CaptureSource interface {
	Start(ctx context.Context) (<-chan []byte, error)
	Stop()
}

// PlaybackSink schedules a decoded chunk to begin at the given time.
type PlaybackSink interface {
	PlayAt(chunk []byte, start time.Time)
}

// Voice relays microphone chunks to the room and schedules incoming
// chunks for gapless playback. Recording implies enabled; disabling
// while recording releases the capture source first.
type Voice struct {
	send func(base64Chunk string)
	sink PlaybackSink
	now  func() time.Time

	chunkDur time.Duration

	mu            sync.Mutex
	enabled       bool
	recording     bool
	cancelCapture context.CancelFunc
	source        CaptureSource
	nextScheduled time.Time
}

func newVoice(send func(string), sink PlaybackSink) *Voice {
	return &Voice{
		send:     send,
		sink:     sink,
		now:      time.Now,
		chunkDur: voiceChunkDuration,
	}
}

func (v *Voice) Enabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.enabled
}

func (v *Voice) Recording() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.recording
}

func (v *Voice) Enable() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.enabled = true
}

// Disable turns voice off. Capture stops before the enabled flag clears
// so the device is released while the pipeline still counts as active.
func (v *Voice) Disable() {
	v.mu.Lock()
	if v.recording {
		v.stopRecordingLocked()
	}
	v.enabled = false
	v.mu.Unlock()
}

// StartRecording acquires the capture source and begins relaying chunks.
// An acquisition failure rolls voice back to disabled and is returned to
// the caller; there is no retry.
func (v *Voice) StartRecording(ctx context.Context, source CaptureSource) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.recording {
		return nil
	}

	v.enabled = true
	captureCtx, cancel := context.WithCancel(ctx)
	chunks, err := source.Start(captureCtx)
	if err != nil {
		cancel()
		v.enabled = false
		slog.Error("voice capture failed", "err", err)
		return err
	}

	v.recording = true
	v.source = source
	v.cancelCapture = cancel
	go v.relay(chunks)
	return nil
}

func (v *Voice) StopRecording() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopRecordingLocked()
}

func (v *Voice) stopRecordingLocked() {
	if !v.recording {
		return
	}
	v.recording = false
	if v.cancelCapture != nil {
		v.cancelCapture()
		v.cancelCapture = nil
	}
	if v.source != nil {
		v.source.Stop()
		v.source = nil
	}
}

// relay is the consumer side of the capture pipeline: every chunk goes
// out immediately, base64-encoded, no batching.
func (v *Voice) relay(chunks <-chan []byte) {
	for chunk := range chunks {
		if len(chunk) == 0 {
			continue
		}
		v.send(base64.StdEncoding.EncodeToString(chunk))
	}
}

// HandleChunk schedules an incoming chunk for playback. Chunks arriving
// while voice is disabled are dropped. A chunk starts at the later of
// the previously scheduled end and now, so back-to-back chunks play
// gaplessly and the schedule resets after a network stall. The sink runs
// without the lock held; it may block or call back into Voice.
func (v *Voice) HandleChunk(audioData string) {
	v.mu.Lock()
	if !v.enabled {
		v.mu.Unlock()
		return
	}
	decoded, err := base64.StdEncoding.DecodeString(audioData)
	if err != nil {
		v.mu.Unlock()
		slog.Warn("voice chunk discarded", "err", err)
		return
	}

	start := v.now()
	if v.nextScheduled.After(start) {
		start = v.nextScheduled
	}
	v.nextScheduled = start.Add(v.chunkDur)
	sink := v.sink
	v.mu.Unlock()

	if sink != nil {
		sink.PlayAt(decoded, start)
	}
}
