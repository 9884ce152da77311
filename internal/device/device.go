// Package device wraps host audio I/O behind a small Backend interface.
//
// Input captures fixed-size PCM16 frames from a capture device. Output writes
// frames to a playback device (normally a virtual audio cable) and substitutes
// silence of the same length while muted, so the downstream consumer never sees
// a gap in the stream.
package device

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDeviceNotFound       = errors.New("audio device not found")
	ErrDeviceBusy           = errors.New("audio device busy")
	ErrVirtualCableNotFound = errors.New("virtual audio cable not found")
	ErrUnderflow            = errors.New("output underflow")
	ErrOverflow             = errors.New("input overflow")
	ErrClosed               = errors.New("audio stream closed")
)

// DefaultDeviceID selects the host's default device.
const DefaultDeviceID = -1

// DeviceError describes a failure to acquire or drive a device handle.
type DeviceError struct {
	Op     string
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("audio device %s %q: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Info describes one host audio device.
type Info struct {
	ID                int     `json:"id"`
	Name              string  `json:"name"`
	MaxInputChannels  int     `json:"max_input_channels"`
	MaxOutputChannels int     `json:"max_output_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
	HostAPIName       string  `json:"host_api"`
	IsDefaultInput    bool    `json:"is_default_input,omitempty"`
	IsDefaultOutput   bool    `json:"is_default_output,omitempty"`
}

// StreamParams fixes the shape of an opened stream.
type StreamParams struct {
	DeviceID   int
	Channels   int
	SampleRate int
	FrameSize  int
}

// InputStream is an open capture handle. Read fills buf with exactly len(buf) samples.
type InputStream interface {
	Read(buf []int16) error
	Close() error
}

// OutputStream is an open playback handle.
type OutputStream interface {
	Write(buf []int16) error
	Close() error
}

// Backend is the host audio API.
type Backend interface {
	Devices() ([]Info, error)
	OpenInput(params StreamParams) (InputStream, error)
	OpenOutput(params StreamParams) (OutputStream, error)
}

// FindByID returns the device with the given ID, or nil.
func FindByID(devices []Info, id int) *Info {
	for i := range devices {
		if devices[i].ID == id {
			return &devices[i]
		}
	}
	return nil
}

// FindVirtualCable returns the first output-capable device whose name contains
// substr (case-insensitive), or nil when none matches.
func FindVirtualCable(devices []Info, substr string) *Info {
	if substr == "" {
		return nil
	}
	needle := strings.ToLower(substr)
	for i := range devices {
		if devices[i].MaxOutputChannels > 0 && strings.Contains(strings.ToLower(devices[i].Name), needle) {
			return &devices[i]
		}
	}
	return nil
}

// ResolveOutput picks the output device: an explicit ID wins, then the virtual
// cable match. A missing virtual cable is a configuration error.
func ResolveOutput(backend Backend, id int, cableName string) (int, error) {
	if id != DefaultDeviceID {
		return id, nil
	}
	if cableName == "" {
		return DefaultDeviceID, nil
	}

	devices, err := backend.Devices()
	if err != nil {
		return 0, &DeviceError{Op: "enumerate", Err: err}
	}
	cable := FindVirtualCable(devices, cableName)
	if cable == nil {
		return 0, &DeviceError{Op: "resolve output", Device: cableName, Err: ErrVirtualCableNotFound}
	}
	return cable.ID, nil
}

func validateParams(p StreamParams) error {
	if p.Channels != 1 {
		return fmt.Errorf("only mono streams are supported, got %d channels", p.Channels)
	}
	if p.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", p.SampleRate)
	}
	if p.FrameSize <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", p.FrameSize)
	}
	return nil
}
