package p2p

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/p2pcall/internal/core"
	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// fakePeer mimics the engine rules the session relies on: candidates are
// rejected until a remote description exists.
type fakePeer struct {
	mu sync.Mutex

	onICE      func(*webrtc.ICECandidateInit)
	onTrack    func(core.RemoteTrack)
	onState    func(domain.ConnectionState)
	onICEState func(webrtc.ICEConnectionState)

	tracks     []core.LocalTrack
	senders    []*fakeSender
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	offers     int
	answers    int
	closed     int

	offerErr     error
	badCandidate string
	// addEntered and addGate, when set, make AddTrack report entry and block.
	addEntered chan<- struct{}
	addGate    <-chan struct{}
}

func (p *fakePeer) OnICECandidate(f func(*webrtc.ICECandidateInit))              { p.onICE = f }
func (p *fakePeer) OnTrack(f func(core.RemoteTrack))                             { p.onTrack = f }
func (p *fakePeer) OnConnectionStateChange(f func(domain.ConnectionState))       { p.onState = f }
func (p *fakePeer) OnICEConnectionStateChange(f func(webrtc.ICEConnectionState)) { p.onICEState = f }

func (p *fakePeer) AddTrack(t core.LocalTrack) (core.TrackSender, error) {
	if p.addEntered != nil {
		p.addEntered <- struct{}{}
	}
	if p.addGate != nil {
		<-p.addGate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSender{}
	p.tracks = append(p.tracks, t)
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offerErr != nil {
		return webrtc.SessionDescription{}, p.offerErr
	}
	p.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", p.offers)}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote description")
	}
	p.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", p.answers)}, nil
}

func (p *fakePeer) SetLocalDescription(sd webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &sd
	return nil
}

func (p *fakePeer) SetRemoteDescription(sd webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = &sd
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	if c.Candidate == p.badCandidate {
		return errors.New("malformed candidate")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePeer) appliedCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.candidates))
	for _, c := range p.candidates {
		out = append(out, c.Candidate)
	}
	return out
}

type fakeFactory struct {
	peers []*fakePeer
	err   error
	// prepare tweaks each new peer before it is handed out.
	prepare func(*fakePeer)
}

func (f *fakeFactory) NewPeerConnection(cfg webrtc.Configuration) (core.PeerConnection, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePeer{}
	if f.prepare != nil {
		f.prepare(p)
	}
	f.peers = append(f.peers, p)
	return p, nil
}

type fakeSender struct {
	mu       sync.Mutex
	replaced []webrtc.TrackLocal
}

func (s *fakeSender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaced = append(s.replaced, t)
	return nil
}

type fakeTrack struct {
	id      string
	kind    webrtc.RTPCodecType
	local   webrtc.TrackLocal
	mu      sync.Mutex
	stopped int
}

func newFakeTrack(id string) *fakeTrack {
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, id, "local")
	if err != nil {
		panic(err)
	}
	return &fakeTrack{id: id, kind: webrtc.RTPCodecTypeAudio, local: local}
}

func (t *fakeTrack) ID() string                { return t.id }
func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *fakeTrack) Local() webrtc.TrackLocal  { return t.local }
func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped++
	return nil
}

func (t *fakeTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeCapturer struct {
	tracks      []*fakeTrack
	err         error
	constraints domain.AudioConstraints
}

func (c *fakeCapturer) CaptureAudio(_ context.Context, constraints domain.AudioConstraints) ([]core.LocalTrack, error) {
	c.constraints = constraints
	if c.err != nil {
		return nil, c.err
	}
	out := make([]core.LocalTrack, 0, len(c.tracks))
	for _, t := range c.tracks {
		out = append(out, t)
	}
	return out, nil
}

type fakeSignal struct {
	mu        sync.Mutex
	connected bool
	sent      []domain.SignalMessage
	done      chan struct{}
}

func newFakeSignal() *fakeSignal {
	return &fakeSignal{connected: true, done: make(chan struct{})}
}

func (s *fakeSignal) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSignal) Send(msg domain.SignalMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSignal) Done() <-chan struct{} { return s.done }

func (s *fakeSignal) byEvent(ev domain.SignalEvent) []domain.SignalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SignalMessage
	for _, m := range s.sent {
		if m.Event == ev {
			out = append(out, m)
		}
	}
	return out
}

type fakeRemote struct{ id, stream string }

func (r fakeRemote) ID() string                { return r.id }
func (r fakeRemote) StreamID() string          { return r.stream }
func (r fakeRemote) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }

type recordingObserver struct {
	mu      sync.Mutex
	streams []*core.RemoteStream
	states  []domain.ConnectionState
}

func (o *recordingObserver) OnRemoteStream(s *core.RemoteStream) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.streams = append(o.streams, s)
}

func (o *recordingObserver) OnConnectionStateChange(s domain.ConnectionState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *recordingObserver) snapshot() ([]*core.RemoteStream, []domain.ConnectionState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*core.RemoteStream(nil), o.streams...), append([]domain.ConnectionState(nil), o.states...)
}

func candidate(n int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d 1 udp 2122260223 192.168.1.%d 5000%d typ host", n, n, n)}
}
