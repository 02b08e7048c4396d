// Package audio implements the binary wire format used to deliver model
// speech to the client, plus small helpers for validating inbound audio.
//
// Outbound audio chunks are framed as a fixed 13-byte header followed by the
// raw PCM payload (16-bit signed, 24 kHz, mono). All header integers are
// big-endian and unsigned:
//
//	byte  0      message type (0x01 = audio chunk)
//	bytes 1..4   sequence number
//	bytes 5..8   send timestamp, whole seconds since the Unix epoch
//	bytes 9..12  chunk duration in milliseconds
//	bytes 13..N  PCM payload
//
// The client schedules gapless playback from the sequence numbers and
// durations; the backend never buffers or reorders chunks.
package audio

import "encoding/binary"

// TypeAudioChunk is the message type byte for a framed audio chunk.
const TypeAudioChunk byte = 0x01

// HeaderSize is the fixed size of the chunk header in bytes.
const HeaderSize = 13

// Model output is 16-bit mono PCM at 24 kHz, so one millisecond of audio
// occupies 48 bytes.
const outputBytesPerMS = 24000 * 2 / 1000

// ChunkMetadata describes one outbound audio chunk. Sequence numbers start at
// zero and increase by exactly one per chunk within a session.
type ChunkMetadata struct {
	// Sequence is the chunk's position in the session's audio stream.
	Sequence uint32

	// Timestamp is the send time in whole seconds since the Unix epoch.
	Timestamp uint32

	// DurationMS is the chunk's playback duration in milliseconds, derived
	// from the payload length via [Duration].
	DurationMS uint32
}

// Duration returns the playback duration in milliseconds of a PCM payload of
// the given byte length, truncated to whole milliseconds.
func Duration(payloadLen int) uint32 {
	if payloadLen <= 0 {
		return 0
	}
	return uint32(payloadLen / outputBytesPerMS)
}

// EncodeChunk frames payload with meta into a single binary message. It is a
// pure function: any payload (including empty) yields a valid frame.
func EncodeChunk(payload []byte, meta ChunkMetadata) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = TypeAudioChunk
	binary.BigEndian.PutUint32(buf[1:5], meta.Sequence)
	binary.BigEndian.PutUint32(buf[5:9], meta.Timestamp)
	binary.BigEndian.PutUint32(buf[9:13], meta.DurationMS)
	copy(buf[HeaderSize:], payload)
	return buf
}

// ebmlSignature is the magic number that opens every EBML container
// (WebM, Matroska). Browsers that record via MediaRecorder instead of a raw
// PCM worklet produce WebM, which the upstream model cannot consume.
var ebmlSignature = [4]byte{0x1A, 0x45, 0xDF, 0xA3}

// IsEBMLContainer reports whether data begins with the EBML magic number,
// indicating a WebM/Matroska container rather than raw PCM.
func IsEBMLContainer(data []byte) bool {
	if len(data) < len(ebmlSignature) {
		return false
	}
	return [4]byte(data[:4]) == ebmlSignature
}
