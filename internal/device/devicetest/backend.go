// Package devicetest provides an in-memory device.Backend for tests.
package devicetest

import (
	"errors"
	"sync"

	"github.com/AnnixInvestments/annix-sub033/internal/device"
)

// Backend is an in-memory audio host. Captured audio is supplied with Feed;
// everything written to an output is recorded.
type Backend struct {
	mu      sync.Mutex
	devices []device.Info
	feed    chan []int16
	writes  [][]int16
	busy    map[int]bool

	readErr  error
	writeErr error
}

// NewBackend creates a backend exposing the given devices.
func NewBackend(devices ...device.Info) *Backend {
	return &Backend{
		devices: devices,
		feed:    make(chan []int16, 256),
		busy:    make(map[int]bool),
	}
}

// SetBusy makes opening the device fail with device.ErrDeviceBusy.
func (b *Backend) SetBusy(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.busy[id] = true
}

// FailNextWrite makes the next output write return err.
func (b *Backend) FailNextWrite(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeErr = err
}

// FailNextRead makes the next captured frame come back with err.
func (b *Backend) FailNextRead(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readErr = err
}

// Feed queues samples for the next input read.
func (b *Backend) Feed(samples []int16) {
	b.feed <- samples
}

// Writes returns a copy of every buffer written to outputs.
func (b *Backend) Writes() [][]int16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]int16, len(b.writes))
	copy(out, b.writes)
	return out
}

func (b *Backend) Devices() ([]device.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]device.Info, len(b.devices))
	copy(out, b.devices)
	return out, nil
}

func (b *Backend) check(id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id != device.DefaultDeviceID && device.FindByID(b.devices, id) == nil {
		return device.ErrDeviceNotFound
	}
	if b.busy[id] {
		return device.ErrDeviceBusy
	}
	return nil
}

func (b *Backend) OpenInput(params device.StreamParams) (device.InputStream, error) {
	if err := b.check(params.DeviceID); err != nil {
		return nil, err
	}
	return &inputStream{backend: b, done: make(chan struct{})}, nil
}

func (b *Backend) OpenOutput(params device.StreamParams) (device.OutputStream, error) {
	if err := b.check(params.DeviceID); err != nil {
		return nil, err
	}
	return &outputStream{backend: b}, nil
}

type inputStream struct {
	backend *Backend
	once    sync.Once
	done    chan struct{}
}

func (s *inputStream) Read(buf []int16) error {
	select {
	case samples := <-s.backend.feed:
		copy(buf, samples)
		for i := len(samples); i < len(buf); i++ {
			buf[i] = 0
		}
		s.backend.mu.Lock()
		err := s.backend.readErr
		s.backend.readErr = nil
		s.backend.mu.Unlock()
		return err
	case <-s.done:
		return errors.New("stream closed")
	}
}

func (s *inputStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type outputStream struct {
	backend *Backend
}

func (s *outputStream) Write(buf []int16) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	if err := s.backend.writeErr; err != nil {
		s.backend.writeErr = nil
		return err
	}
	c := make([]int16, len(buf))
	copy(c, buf)
	s.backend.writes = append(s.backend.writes, c)
	return nil
}

func (s *outputStream) Close() error { return nil }
