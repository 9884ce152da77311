// Package protocol implements the TLV packets a meeting bot uses to stream
// hosted-meeting audio over UDP.
//
// Every packet starts with an 8-byte header
//
//	[PacketType:1][PacketLen:2][StreamID:4][Version:1]
//
// followed by one of three payloads. Signaling packets open a stream or
// announce a speaker change; audio packets carry a sequence number and PCM;
// hangup packets end the stream. Multi-byte integers are big-endian; PCM is
// little-endian as produced by the sender.
package protocol
