// Package portaudio captures through PortAudio.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	pa "github.com/gordonklaus/portaudio"

	"node.town/tabscribe/snd"
)

const framesPerBuffer = 1024

// Backend captures through PortAudio. Initialize and Terminate are
// reference counted by the library, so every source and graph holds its
// own initialization.
type Backend struct {
	logger *log.Logger
}

func New() *Backend {
	return &Backend{logger: log.Default().WithPrefix("portaudio")}
}

func (p *Backend) Name() string { return "portaudio" }

func (p *Backend) Devices() ([]snd.Device, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer pa.Terminate()

	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	def, _ := pa.DefaultInputDevice()

	var devices []snd.Device
	for _, info := range infos {
		if info.MaxInputChannels == 0 {
			continue
		}
		devices = append(devices, snd.Device{
			Name:     info.Name,
			Default:  def != nil && def.Name == info.Name,
			Channels: info.MaxInputChannels,
			Backend:  p.Name(),
		})
	}
	return devices, nil
}

func findInput(h snd.StreamHandle) (*pa.DeviceInfo, error) {
	if h == "" {
		return pa.DefaultInputDevice()
	}
	infos, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Name == string(h) && info.MaxInputChannels > 0 {
			return info, nil
		}
	}
	return nil, fmt.Errorf("capture device %q not found", h)
}

type source struct {
	snd.Tap
	stream *pa.Stream
	once   sync.Once
}

func (s *source) Tracks() []snd.Track {
	return []snd.Track{snd.TrackFunc(s.stop)}
}

func (s *source) stop() error {
	var err error
	s.once.Do(func() {
		err = errors.Join(
			s.stream.Stop(),
			s.stream.Close(),
			pa.Terminate(),
		)
	})
	return err
}

func (p *Backend) Acquire(ctx context.Context, h snd.StreamHandle) (snd.Source, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	dev, err := findInput(h)
	if err != nil {
		pa.Terminate()
		return nil, err
	}

	params := pa.LowLatencyParameters(dev, nil)
	params.Input.Channels = snd.Channels
	params.SampleRate = snd.SampleRate
	params.FramesPerBuffer = framesPerBuffer

	src := &source{}
	src.stream, err = pa.OpenStream(params, func(in []float32) {
		src.Emit(in)
	})
	if err != nil {
		pa.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := src.stream.Start(); err != nil {
		src.stream.Close()
		pa.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}

	p.logger.Info("capture", "device", dev.Name, "rate", snd.SampleRate)
	return src, nil
}

type graph struct {
	mu      sync.Mutex
	monitor *pa.Stream
	unhook  []func()
	closed  bool
}

func (p *Backend) NewGraph() (snd.Graph, error) {
	return &graph{}, nil
}

func (g *graph) Connect(src snd.Source, frameSize int, fn func([]float32)) (snd.Node, error) {
	s, ok := src.(*source)
	if !ok {
		return nil, fmt.Errorf("source %T does not belong to portaudio", src)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, errors.New("graph closed")
	}

	framer := snd.NewFramer(frameSize, fn)
	id := s.Add(framer.Write)
	return snd.NodeFunc(func() error {
		s.Remove(id)
		return nil
	}), nil
}

func (g *graph) Monitor(src snd.Source) error {
	s, ok := src.(*source)
	if !ok {
		return fmt.Errorf("source %T does not belong to portaudio", src)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return errors.New("graph closed")
	}
	if g.monitor != nil {
		return nil
	}

	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	out, err := pa.DefaultOutputDevice()
	if err != nil {
		pa.Terminate()
		return fmt.Errorf("default output device: %w", err)
	}

	queue := snd.NewRing(snd.SampleRate / 2)
	params := pa.LowLatencyParameters(nil, out)
	params.Output.Channels = snd.Channels
	params.SampleRate = snd.SampleRate
	params.FramesPerBuffer = framesPerBuffer

	stream, err := pa.OpenStream(params, func(buf []float32) {
		queue.Read(buf)
	})
	if err != nil {
		pa.Terminate()
		return fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		pa.Terminate()
		return fmt.Errorf("start output stream: %w", err)
	}

	id := s.Add(queue.Write)
	g.monitor = stream
	g.unhook = append(g.unhook, func() { s.Remove(id) })
	return nil
}

func (g *graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true

	for _, fn := range g.unhook {
		fn()
	}
	if g.monitor == nil {
		return nil
	}
	return errors.Join(
		g.monitor.Stop(),
		g.monitor.Close(),
		pa.Terminate(),
	)
}
