// Package playout drains the remote audio of each call and fans its RTP out
// to sinks such as recorders.
package playout

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// RTPReader is the inbound side of a remote track. *webrtc.TrackRemote satisfies it.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type Stats struct {
	Packets      uint64 `json:"packets"`
	Bytes        uint64 `json:"bytes"`
	LastSequence uint16 `json:"lastSequence"`
	Sinks        int    `json:"sinks"`
}

type Relay struct {
	Src RTPReader

	mu    sync.RWMutex
	sinks map[string]*Sink

	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(src RTPReader, cancel context.CancelFunc) *Relay {
	return &Relay{
		Src:    src,
		sinks:  make(map[string]*Sink),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// loop reads RTP packets from the source track and forwards them to every sink.
// The source must be read even with no sinks, or the engine's buffers fill up.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, closing sinks")
			r.closeAll()
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("relay read RTP stopped")
			r.closeAll()
			return
		}
		r.packets.Add(1)
		r.bytes.Add(uint64(len(pkt.Payload)))
		r.lastSeq.Store(uint32(pkt.SequenceNumber))
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[string]*Sink, len(r.sinks))
	maps.Copy(snapshot, r.sinks)
	r.mu.RUnlock()

	var dirty []string
	for name, s := range snapshot {
		switch s.GetState() {
		case SinkStateDelete:
			dirty = append(dirty, name)
		case SinkStateOk:
			if err := s.Out.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("sink", name).Msg("relay write RTP error, dropping sink")
				s.MarkDelete()
				dirty = append(dirty, name)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	removed := make([]*Sink, 0, len(dirty))
	for _, name := range dirty {
		if s, ok := r.sinks[name]; ok {
			delete(r.sinks, name)
			removed = append(removed, s)
		}
	}
	r.mu.Unlock()
	for _, s := range removed {
		s.close()
	}
}

// closeAll runs on the loop goroutine only.
func (r *Relay) closeAll() {
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = make(map[string]*Sink)
	r.mu.Unlock()
	for _, s := range sinks {
		s.MarkDelete()
		s.close()
	}
}

// AddSink attaches out under name. It reports false when the name is taken.
func (r *Relay) AddSink(name string, out RTPWriter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sinks[name]; ok {
		return false
	}
	r.sinks[name] = NewSink(out)
	return true
}

// markAllDelete detaches every sink. The loop goroutine closes them, so a
// sink is never closed while a write to it is in flight.
func (r *Relay) markAllDelete() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sinks {
		s.MarkDelete()
	}
}

func (r *Relay) Stats() Stats {
	r.mu.RLock()
	sinks := len(r.sinks)
	r.mu.RUnlock()
	return Stats{
		Packets:      r.packets.Load(),
		Bytes:        r.bytes.Load(),
		LastSequence: uint16(r.lastSeq.Load()),
		Sinks:        sinks,
	}
}

// Done is closed once the read loop has exited.
func (r *Relay) Done() <-chan struct{} { return r.done }
