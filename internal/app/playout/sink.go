package playout

import (
	"io"
	"sync/atomic"

	"github.com/pion/rtp"
)

// RTPWriter consumes remote packets: a recorder, a local track, a counter.
type RTPWriter interface {
	WriteRTP(*rtp.Packet) error
}

type SinkState int32

const (
	SinkStateOk SinkState = iota
	SinkStateDelete
)

// Sink is one consumer attached to a relay.
type Sink struct {
	Out   RTPWriter
	state atomic.Int32 // Zero by default (SinkStateOk)
}

func NewSink(out RTPWriter) *Sink {
	return &Sink{Out: out}
}

func (s *Sink) GetState() SinkState {
	return SinkState(s.state.Load())
}

func (s *Sink) MarkDelete() {
	s.state.Store(int32(SinkStateDelete))
}

func (s *Sink) close() {
	if c, ok := s.Out.(io.Closer); ok {
		_ = c.Close()
	}
}
