// Package portaudio implements device.Backend on the host PortAudio library.
// It needs cgo and the PortAudio shared library at build time.
package portaudio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	pa "github.com/gordonklaus/portaudio"

	"github.com/AnnixInvestments/annix-sub033/internal/device"
)

// Backend is a device.Backend over PortAudio. Create it with Open and release
// it with Close; PortAudio is initialized once per Backend.
type Backend struct {
	mu     sync.Mutex
	closed bool
}

// Open initializes PortAudio.
func Open() (*Backend, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return &Backend{}, nil
}

// Close terminates PortAudio. Streams must be closed first.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return pa.Terminate()
}

// Devices lists host devices, marking the defaults.
func (b *Backend) Devices() ([]device.Info, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	defIn, _ := pa.DefaultInputDevice()
	defOut, _ := pa.DefaultOutputDevice()

	out := make([]device.Info, 0, len(devices))
	for _, d := range devices {
		info := device.Info{
			ID:                d.Index,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			IsDefaultInput:    defIn != nil && defIn.Index == d.Index,
			IsDefaultOutput:   defOut != nil && defOut.Index == d.Index,
		}
		if d.HostApi != nil {
			info.HostAPIName = d.HostApi.Name
		}
		out = append(out, info)
	}
	return out, nil
}

func (b *Backend) lookup(id int, input bool) (*pa.DeviceInfo, error) {
	if id == device.DefaultDeviceID {
		if input {
			return pa.DefaultInputDevice()
		}
		return pa.DefaultOutputDevice()
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Index == id {
			return d, nil
		}
	}
	return nil, device.ErrDeviceNotFound
}

// OpenInput opens and starts a blocking mono int16 capture stream.
func (b *Backend) OpenInput(params device.StreamParams) (device.InputStream, error) {
	info, err := b.lookup(params.DeviceID, true)
	if err != nil {
		return nil, mapError(err)
	}
	if info.MaxInputChannels < params.Channels {
		return nil, fmt.Errorf("%s has no input channels: %w", info.Name, device.ErrDeviceNotFound)
	}

	sp := pa.LowLatencyParameters(info, nil)
	sp.Input.Channels = params.Channels
	sp.SampleRate = float64(params.SampleRate)
	sp.FramesPerBuffer = params.FrameSize

	s, err := openStream(sp, params)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenOutput opens and starts a blocking mono int16 playback stream.
func (b *Backend) OpenOutput(params device.StreamParams) (device.OutputStream, error) {
	info, err := b.lookup(params.DeviceID, false)
	if err != nil {
		return nil, mapError(err)
	}
	if info.MaxOutputChannels < params.Channels {
		return nil, fmt.Errorf("%s has no output channels: %w", info.Name, device.ErrDeviceNotFound)
	}

	sp := pa.LowLatencyParameters(nil, info)
	sp.Output.Channels = params.Channels
	sp.SampleRate = float64(params.SampleRate)
	sp.FramesPerBuffer = params.FrameSize

	s, err := openStream(sp, params)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openStream(sp pa.StreamParameters, params device.StreamParams) (*stream, error) {
	buf := make([]int16, params.FrameSize*params.Channels)
	ps, err := pa.OpenStream(sp, buf)
	if err != nil {
		return nil, mapError(err)
	}
	if err := ps.Start(); err != nil {
		ps.Close()
		return nil, mapError(err)
	}
	return &stream{pa: ps, buf: buf}, nil
}

// paStream is the part of *pa.Stream a blocking stream uses.
type paStream interface {
	Read() error
	Write() error
	Abort() error
	Close() error
}

// stream adapts a blocking PortAudio stream. PortAudio reads and writes through
// the buffer registered at open time.
type stream struct {
	pa  paStream
	buf []int16

	io     sync.Mutex // held across a blocking Read or Write
	closed atomic.Bool
	once   sync.Once
	err    error
}

func (s *stream) Read(buf []int16) error {
	s.io.Lock()
	defer s.io.Unlock()
	if s.closed.Load() {
		return device.ErrClosed
	}
	err := s.pa.Read()
	copy(buf, s.buf)
	return mapError(err)
}

func (s *stream) Write(buf []int16) error {
	s.io.Lock()
	defer s.io.Unlock()
	if s.closed.Load() {
		return device.ErrClosed
	}
	n := copy(s.buf, buf)
	for i := n; i < len(s.buf); i++ {
		s.buf[i] = 0
	}
	return mapError(s.pa.Write())
}

// Close aborts the stream, waits for an in-flight Read or Write to return,
// and only then frees it.
func (s *stream) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.pa.Abort()

		s.io.Lock()
		defer s.io.Unlock()
		s.err = s.pa.Close()
	})
	return s.err
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, pa.InputOverflowed):
		return fmt.Errorf("%w: %v", device.ErrOverflow, err)
	case errors.Is(err, pa.OutputUnderflowed):
		return fmt.Errorf("%w: %v", device.ErrUnderflow, err)
	case errors.Is(err, pa.DeviceUnavailable):
		return fmt.Errorf("%w: %v", device.ErrDeviceBusy, err)
	case errors.Is(err, pa.InvalidDevice):
		return fmt.Errorf("%w: %v", device.ErrDeviceNotFound, err)
	}
	return err
}
