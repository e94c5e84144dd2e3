// Package faketest provides a scripted, test-only ProviderDriver used to
// exercise FallbackOrchestrator/ResiliencePipeline against the exact
// sequences the end-to-end scenarios (S1-S6) describe, without a real
// upstream.
package faketest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rudironsoni/inference-gateway/gateway/catalog"
	"github.com/rudironsoni/inference-gateway/gateway/driver"
	"github.com/rudironsoni/inference-gateway/gateway/gwtypes"
)

// CallResult is what one Call() invocation returns.
type CallResult struct {
	Response *gwtypes.Response
	Err      error
	Delay    time.Duration // simulated latency before responding
}

// StreamResult scripts one Stream() invocation: a sequence of good chunks,
// optionally followed by a mid-stream error (post-first-byte failure), or a
// pre-first-byte error returned from Stream itself.
type StreamResult struct {
	PreFirstByteErr   error
	PreFirstByteDelay time.Duration
	Chunks            []gwtypes.StreamChunk
	ChunkDelay        time.Duration
	MidStreamErr      error // delivered as an in-band error chunk after Chunks
}

// Driver replays a fixed script of CallResults/StreamResults in order,
// looping the last entry if more calls arrive than scripted results.
type Driver struct {
	mu            sync.Mutex
	calls         []CallResult
	streams       []StreamResult
	callIndex     int
	streamIndex   int
	callCount     atomic.Int64
	streamCount   atomic.Int64
}

func New(calls []CallResult, streams []StreamResult) *Driver {
	return &Driver{calls: calls, streams: streams}
}

var _ driver.Driver = (*Driver)(nil)

func (d *Driver) CallCount() int64   { return d.callCount.Load() }
func (d *Driver) StreamCount() int64 { return d.streamCount.Load() }

func (d *Driver) Call(ctx context.Context, req *gwtypes.Request, model *catalog.CanonicalModel) (*gwtypes.Response, error) {
	d.callCount.Add(1)

	d.mu.Lock()
	if len(d.calls) == 0 {
		d.mu.Unlock()
		return nil, nil
	}
	idx := d.callIndex
	if idx >= len(d.calls) {
		idx = len(d.calls) - 1
	} else {
		d.callIndex++
	}
	result := d.calls[idx]
	d.mu.Unlock()

	if result.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(result.Delay):
		}
	}
	return result.Response, result.Err
}

func (d *Driver) Stream(ctx context.Context, req *gwtypes.Request, model *catalog.CanonicalModel) (<-chan gwtypes.StreamChunk, error) {
	d.streamCount.Add(1)

	d.mu.Lock()
	if len(d.streams) == 0 {
		d.mu.Unlock()
		ch := make(chan gwtypes.StreamChunk)
		close(ch)
		return ch, nil
	}
	idx := d.streamIndex
	if idx >= len(d.streams) {
		idx = len(d.streams) - 1
	} else {
		d.streamIndex++
	}
	result := d.streams[idx]
	d.mu.Unlock()

	if result.PreFirstByteDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(result.PreFirstByteDelay):
		}
	}
	if result.PreFirstByteErr != nil {
		return nil, result.PreFirstByteErr
	}

	ch := make(chan gwtypes.StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range result.Chunks {
			if result.ChunkDelay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(result.ChunkDelay):
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
		if result.MidStreamErr != nil {
			select {
			case <-ctx.Done():
			case ch <- gwtypes.StreamChunk{Err: result.MidStreamErr}:
			}
			return
		}
		select {
		case <-ctx.Done():
		case ch <- gwtypes.StreamChunk{Done: true}:
		}
	}()
	return ch, nil
}
