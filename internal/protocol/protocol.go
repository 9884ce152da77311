package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// Packet types
	PacketTypeSignaling = 0x01
	PacketTypeAudio     = 0x02
	PacketTypeHangup    = 0x03

	// Version is the only protocol version accepted.
	Version = 0x01

	// Audio sample formats announced in signaling.
	FormatPCMS16LE = 0x01
	FormatPCMF32LE = 0x02

	HeaderSize             = 8   // 1 + 2 + 4 + 1 bytes
	SignalingPayloadSize   = 168 // 64 + 32 + 64 + 4 + 1 + 1 + 2 bytes
	AudioPayloadHeaderSize = 4   // sequence number
	MaxPacketSize          = 65535

	SessionIDSize   = 64
	SpeakerIDSize   = 32
	SpeakerNameSize = 64
)

// Header is the 8-byte TLV header.
// Layout: [PacketType:1][PacketLen:2][StreamID:4][Version:1]
type Header struct {
	PacketType uint8
	PacketLen  uint16 // header + payload
	StreamID   uint32
	Version    uint8
}

// SignalingPayload opens a stream or changes the active speaker.
// Layout: [SessionID:64][SpeakerID:32][SpeakerName:64][SampleRate:4][Channels:1][Format:1][Reserved:2]
type SignalingPayload struct {
	SessionID   [SessionIDSize]byte   // null-terminated
	SpeakerID   [SpeakerIDSize]byte   // null-terminated, may be empty
	SpeakerName [SpeakerNameSize]byte // null-terminated, may be empty
	SampleRate  uint32
	Channels    uint8
	Format      uint8
}

// AudioPayload carries one block of PCM.
// Layout: [Sequence:4][AudioData:N]
type AudioPayload struct {
	Sequence  uint32
	AudioData []byte
}

// ParsedPacket is a fully parsed packet. Hangup packets carry no payload.
type ParsedPacket struct {
	Header    *Header
	Signaling *SignalingPayload
	Audio     *AudioPayload
}

// NewSignalingPayload builds a payload, rejecting strings that do not fit
// their fixed-size fields with a terminating null.
func NewSignalingPayload(sessionID, speakerID, speakerName string, sampleRate uint32, channels, format uint8) (*SignalingPayload, error) {
	p := &SignalingPayload{SampleRate: sampleRate, Channels: channels, Format: format}
	if err := putString(p.SessionID[:], sessionID, "session id"); err != nil {
		return nil, err
	}
	if err := putString(p.SpeakerID[:], speakerID, "speaker id"); err != nil {
		return nil, err
	}
	if err := putString(p.SpeakerName[:], speakerName, "speaker name"); err != nil {
		return nil, err
	}
	return p, nil
}

func putString(dst []byte, s, field string) error {
	if len(s) >= len(dst) {
		return fmt.Errorf("%s too long: %d bytes (max %d)", field, len(s), len(dst)-1)
	}
	copy(dst, s)
	return nil
}

// ParseHeader parses the 8-byte header.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Version:    data[7],
	}, nil
}

// ParseSignalingPayload parses the 168-byte signaling payload.
func ParseSignalingPayload(data []byte) (*SignalingPayload, error) {
	if len(data) < SignalingPayloadSize {
		return nil, fmt.Errorf("signaling payload too short: expected %d bytes, got %d",
			SignalingPayloadSize, len(data))
	}

	p := &SignalingPayload{}
	off := 0
	off += copy(p.SessionID[:], data[off:off+SessionIDSize])
	off += copy(p.SpeakerID[:], data[off:off+SpeakerIDSize])
	off += copy(p.SpeakerName[:], data[off:off+SpeakerNameSize])
	p.SampleRate = binary.BigEndian.Uint32(data[off : off+4])
	p.Channels = data[off+4]
	p.Format = data[off+5]

	return p, nil
}

// ParseAudioPayload parses a sequence number followed by PCM. The PCM is copied.
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	p := &AudioPayload{Sequence: binary.BigEndian.Uint32(data[0:4])}
	if len(data) > AudioPayloadHeaderSize {
		p.AudioData = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(p.AudioData, data[AudioPayloadHeaderSize:])
	}
	return p, nil
}

// ParsePacket parses and validates a complete packet.
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payload := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeSignaling:
		p, err := ParseSignalingPayload(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signaling payload: %w", err)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid signaling payload: %w", err)
		}
		packet.Signaling = p

	case PacketTypeAudio:
		p, err := ParseAudioPayload(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = p
	}

	return packet, nil
}

// ValidateHeader checks type, version and the payload size implied by PacketLen.
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.Version != Version {
		return fmt.Errorf("unsupported version: 0x%02x", header.Version)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeSignaling:
		if payloadSize != SignalingPayloadSize {
			return fmt.Errorf("signaling packet payload size mismatch: expected %d, got %d",
				SignalingPayloadSize, payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, payloadSize)
		}
	case PacketTypeHangup:
		if payloadSize != 0 {
			return fmt.Errorf("hangup packet must have no payload, got %d bytes", payloadSize)
		}
	}

	return nil
}

// Validate checks the signaling fields the ingest path depends on.
func (s *SignalingPayload) Validate() error {
	if s.GetSessionID() == "" {
		return fmt.Errorf("session id is empty")
	}
	if s.SampleRate == 0 {
		return fmt.Errorf("sample rate is zero")
	}
	if s.Channels == 0 {
		return fmt.Errorf("channel count is zero")
	}
	if !IsValidFormat(s.Format) {
		return fmt.Errorf("invalid format: 0x%02x", s.Format)
	}
	return nil
}

// IsValidPacketType checks if the packet type is known.
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeSignaling || ptype == PacketTypeAudio || ptype == PacketTypeHangup
}

// IsValidFormat checks if the sample format is known.
func IsValidFormat(format uint8) bool {
	return format == FormatPCMS16LE || format == FormatPCMF32LE
}

// ExtractString extracts a null-terminated string from a fixed-size field.
func ExtractString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

func (s *SignalingPayload) GetSessionID() string   { return ExtractString(s.SessionID[:]) }
func (s *SignalingPayload) GetSpeakerID() string   { return ExtractString(s.SpeakerID[:]) }
func (s *SignalingPayload) GetSpeakerName() string { return ExtractString(s.SpeakerName[:]) }

// FormatName returns the adapter format name for the payload's sample format.
func (s *SignalingPayload) FormatName() string {
	if s.Format == FormatPCMF32LE {
		return "pcm_f32le"
	}
	return "pcm_s16le"
}

// EncodeSignaling builds a complete signaling packet.
func EncodeSignaling(streamID uint32, p *SignalingPayload) []byte {
	buf := make([]byte, HeaderSize+SignalingPayloadSize)
	putHeader(buf, PacketTypeSignaling, streamID)

	off := HeaderSize
	off += copy(buf[off:], p.SessionID[:])
	off += copy(buf[off:], p.SpeakerID[:])
	off += copy(buf[off:], p.SpeakerName[:])
	binary.BigEndian.PutUint32(buf[off:], p.SampleRate)
	buf[off+4] = p.Channels
	buf[off+5] = p.Format
	return buf
}

// EncodeAudio builds a complete audio packet.
func EncodeAudio(streamID, sequence uint32, pcm []byte) ([]byte, error) {
	size := HeaderSize + AudioPayloadHeaderSize + len(pcm)
	if size > MaxPacketSize {
		return nil, fmt.Errorf("audio packet too large: %d bytes (max %d)", size, MaxPacketSize)
	}
	buf := make([]byte, size)
	putHeader(buf, PacketTypeAudio, streamID)
	binary.BigEndian.PutUint32(buf[HeaderSize:], sequence)
	copy(buf[HeaderSize+AudioPayloadHeaderSize:], pcm)
	return buf, nil
}

// EncodeHangup builds a hangup packet.
func EncodeHangup(streamID uint32) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, PacketTypeHangup, streamID)
	return buf
}

func putHeader(buf []byte, ptype uint8, streamID uint32) {
	buf[0] = ptype
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], streamID)
	buf[7] = Version
}

// String returns a human-readable representation of the header.
func (h *Header) String() string {
	var packetType string
	switch h.PacketType {
	case PacketTypeSignaling:
		packetType = "Signaling"
	case PacketTypeAudio:
		packetType = "Audio"
	case PacketTypeHangup:
		packetType = "Hangup"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d, Version:%d}",
		packetType, h.PacketLen, h.StreamID, h.Version)
}

func (s *SignalingPayload) String() string {
	return fmt.Sprintf("SignalingPayload{SessionID:%q, SpeakerID:%q, SpeakerName:%q, SampleRate:%d, Channels:%d, Format:%s}",
		s.GetSessionID(), s.GetSpeakerID(), s.GetSpeakerName(), s.SampleRate, s.Channels, s.FormatName())
}

func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, AudioDataLen:%d}", a.Sequence, len(a.AudioData))
}
