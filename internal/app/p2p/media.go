package p2p

import (
	"fmt"

	"github.com/dkeye/p2pcall/internal/core"
	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// attachTracks hands the captured tracks to the session first, so Cleanup
// stops them even when attaching fails halfway.
func (m *Manager) attachTracks(pc core.PeerConnection, tracks []core.LocalTrack) error {
	owned := make([]*localTrack, 0, len(tracks))
	for _, t := range tracks {
		if t.Kind() != webrtc.RTPCodecTypeAudio {
			m.log.Warn().Str("track_id", t.ID()).Str("kind", t.Kind().String()).Msg("dropping non-audio track")
			_ = t.Stop()
			continue
		}
		owned = append(owned, &localTrack{track: t, enabled: true})
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		for _, lt := range owned {
			_ = lt.track.Stop()
		}
		return domain.ErrClosed
	}
	m.tracks = append(m.tracks, owned...)
	m.mu.Unlock()

	for _, lt := range owned {
		sender, err := pc.AddTrack(lt.track)
		if err != nil {
			return fmt.Errorf("%w: add track %s: %w", domain.ErrNegotiationFailed, lt.track.ID(), err)
		}
		m.bindSender(lt, sender)
	}
	m.log.Info().Int("tracks", len(owned)).Msg("local audio attached")
	return nil
}

// bindSender publishes the sender of lt. A mute that landed while the track
// was being attached is applied here, so a muted track never goes on the wire.
func (m *Manager) bindSender(lt *localTrack, sender core.TrackSender) {
	m.muteMu.Lock()
	defer m.muteMu.Unlock()

	m.mu.Lock()
	lt.sender = sender
	enabled := lt.enabled
	m.mu.Unlock()
	if enabled {
		return
	}
	if err := sender.ReplaceTrack(nil); err != nil {
		m.log.Warn().Err(err).Str("track_id", lt.track.ID()).Msg("replace track")
	}
}

// SetMuted enables or disables every local track without renegotiation.
// Before media exists it does nothing.
func (m *Manager) SetMuted(muted bool) {
	type swap struct {
		id     string
		sender core.TrackSender
		next   webrtc.TrackLocal
	}

	m.muteMu.Lock()
	defer m.muteMu.Unlock()

	m.mu.Lock()
	if m.closed || len(m.tracks) == 0 {
		m.mu.Unlock()
		return
	}
	m.muted = muted
	var swaps []swap
	for _, lt := range m.tracks {
		if lt.enabled == !muted {
			continue
		}
		lt.enabled = !muted
		if lt.sender == nil {
			continue
		}
		sw := swap{id: lt.track.ID(), sender: lt.sender}
		if !muted {
			sw.next = lt.track.Local()
		}
		swaps = append(swaps, sw)
	}
	m.mu.Unlock()

	for _, sw := range swaps {
		if err := sw.sender.ReplaceTrack(sw.next); err != nil {
			m.log.Warn().Err(err).Str("track_id", sw.id).Bool("muted", muted).Msg("replace track")
		}
	}
	m.log.Info().Bool("muted", muted).Msg("mute toggled")
}

// Tracks reports the local tracks currently owned by the session.
func (m *Manager) Tracks() []TrackState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TrackState, 0, len(m.tracks))
	for _, lt := range m.tracks {
		out = append(out, TrackState{ID: lt.track.ID(), Enabled: lt.enabled})
	}
	return out
}

// Cleanup stops local media, closes the peer connection and drops the remote
// stream. It is the only path that releases native resources and may be
// called any number of times, from any point of the lifecycle.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pc := m.pc
	tracks := m.tracks
	m.pc = nil
	m.tracks = nil
	m.remote = nil
	m.pending = nil
	m.state = domain.StateClosed
	close(m.stop)
	m.mu.Unlock()

	for _, lt := range tracks {
		if err := lt.track.Stop(); err != nil {
			m.log.Warn().Err(err).Str("track_id", lt.track.ID()).Msg("stop track")
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			m.log.Error().Err(err).Msg("close error")
		}
	}
	m.log.Info().Int("tracks", len(tracks)).Bool("had_peer", pc != nil).Msg("closed")
}
