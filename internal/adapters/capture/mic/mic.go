// Package mic captures the host microphone through pion/mediadevices.
// Capture is only available on Linux; other platforms report no driver.
package mic

import "github.com/dkeye/p2pcall/internal/core"

var (
	_ core.AudioCapturer  = (*Capturer)(nil)
	_ core.CodecRegistrar = (*Capturer)(nil)
)
