package playout

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// NewOggRecorder creates dir/<call id>.ogg for 48 kHz stereo Opus. The
// returned writer is a sink; it is closed when the relay drops it.
func NewOggRecorder(dir string, id domain.CallID) (*oggwriter.OggWriter, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("record dir: %w", err)
	}
	path := filepath.Join(dir, url.PathEscape(string(id))+".ogg")
	w, err := oggwriter.New(path, 48000, 2)
	if err != nil {
		return nil, "", fmt.Errorf("create recorder %s: %w", path, err)
	}
	return w, path, nil
}
