// Package miniaudio captures through miniaudio via malgo.
package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"

	"node.town/tabscribe/snd"
)

const periodSizeInFrames = 1024

// Backend captures through miniaudio, which resamples any device to
// snd.SampleRate mono float32 for us.
type Backend struct {
	logger *log.Logger
}

func New() *Backend {
	return &Backend{logger: log.Default().WithPrefix("miniaudio")}
}

func (m *Backend) Name() string { return "miniaudio" }

func (m *Backend) initContext() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		m.logger.Debug("malgo", "msg", message)
	})
	if err != nil {
		return nil, fmt.Errorf("init miniaudio context: %w", err)
	}
	return ctx, nil
}

func freeContext(ctx *malgo.AllocatedContext) error {
	err := ctx.Uninit()
	ctx.Free()
	return err
}

func (m *Backend) Devices() ([]snd.Device, error) {
	ctx, err := m.initContext()
	if err != nil {
		return nil, err
	}
	defer freeContext(ctx)

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}

	devices := make([]snd.Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, snd.Device{
			Name:     info.Name(),
			Default:  info.IsDefault != 0,
			Channels: snd.Channels,
			Backend:  m.Name(),
		})
	}
	return devices, nil
}

type source struct {
	snd.Tap
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	samples []float32
	once    sync.Once
}

func (s *source) Tracks() []snd.Track {
	return []snd.Track{snd.TrackFunc(s.stop)}
}

func (s *source) stop() error {
	var err error
	s.once.Do(func() {
		err = s.device.Stop()
		s.device.Uninit()
		err = errors.Join(err, freeContext(s.ctx))
	})
	return err
}

func (m *Backend) Acquire(ctx context.Context, h snd.StreamHandle) (snd.Source, error) {
	actx, err := m.initContext()
	if err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = snd.SampleRate
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = snd.Channels
	cfg.Alsa.NoMMap = 1
	cfg.PeriodSizeInFrames = periodSizeInFrames

	if h != "" {
		infos, err := actx.Devices(malgo.Capture)
		if err != nil {
			freeContext(actx)
			return nil, fmt.Errorf("list capture devices: %w", err)
		}
		found := false
		for i := range infos {
			if infos[i].Name() == string(h) {
				cfg.Capture.DeviceID = infos[i].ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			freeContext(actx)
			return nil, fmt.Errorf("capture device %q not found", h)
		}
	}

	src := &source{ctx: actx}
	src.device, err = malgo.InitDevice(actx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * 4 * snd.Channels
			if n == 0 || len(pInput) < n {
				return
			}
			src.samples = snd.DecodeFloat32(src.samples, pInput[:n])
			src.Emit(src.samples)
		},
	})
	if err != nil {
		freeContext(actx)
		return nil, fmt.Errorf("init capture device: %w", err)
	}

	if err := src.device.Start(); err != nil {
		src.device.Uninit()
		freeContext(actx)
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	m.logger.Info("capture", "device", h, "rate", snd.SampleRate)
	return src, nil
}

type graph struct {
	m *Backend

	mu       sync.Mutex
	ctx      *malgo.AllocatedContext
	playback *malgo.Device
	unhook   []func()
	closed   bool
}

func (m *Backend) NewGraph() (snd.Graph, error) {
	return &graph{m: m}, nil
}

func (g *graph) Connect(src snd.Source, frameSize int, fn func([]float32)) (snd.Node, error) {
	s, ok := src.(*source)
	if !ok {
		return nil, fmt.Errorf("source %T does not belong to miniaudio", src)
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
		return fmt.Errorf("source %T does not belong to miniaudio", src)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return errors.New("graph closed")
	}
	if g.playback != nil {
		return nil
	}

	actx, err := g.m.initContext()
	if err != nil {
		return err
	}

	queue := snd.NewRing(snd.SampleRate / 2)
	out := make([]float32, 0, periodSizeInFrames)

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = snd.SampleRate
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = snd.Channels
	cfg.Alsa.NoMMap = 1
	cfg.PeriodSizeInFrames = periodSizeInFrames

	device, err := malgo.InitDevice(actx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			n := int(frameCount) * snd.Channels
			if cap(out) < n {
				out = make([]float32, n)
			}
			out = out[:n]
			queue.Read(out)
			snd.PutFloat32(pOutput, out)
		},
	})
	if err != nil {
		freeContext(actx)
		return fmt.Errorf("init playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(actx)
		return fmt.Errorf("start playback device: %w", err)
	}

	id := s.Add(queue.Write)
	g.ctx = actx
	g.playback = device
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
	if g.playback == nil {
		return nil
	}
	err := g.playback.Stop()
	g.playback.Uninit()
	return errors.Join(err, freeContext(g.ctx))
}
