// Package backends selects a cgo audio backend by name. It is the only
// package that links miniaudio and PortAudio; everything else depends on
// the snd interfaces.
package backends

import (
	"fmt"

	"node.town/tabscribe/snd"
	"node.town/tabscribe/snd/miniaudio"
	"node.town/tabscribe/snd/portaudio"
)

// Names lists the registered backends, default first.
var Names = []string{"miniaudio", "portaudio"}

// New returns the backend registered under name. The empty name selects
// miniaudio.
func New(name string) (snd.Backend, error) {
	switch name {
	case "", "miniaudio":
		return miniaudio.New(), nil
	case "portaudio":
		return portaudio.New(), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", name)
	}
}
