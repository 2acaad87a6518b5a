// Package frame serializes the logical messages the two nodes exchange
// into the opaque byte payloads the transport carries.
//
// Frames are JSON with a type tag, matching what fits a single LoRa
// payload at the default chunk size. Chunk bytes ride base64-encoded
// inside the JSON, so the byte stream round-trips exactly through the
// line-mode module's hex command syntax. Malformed input never panics the
// listener: Decode returns an error and the caller skips the frame.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lora-link/llt/internal/transport"
)

// ErrMalformed marks undecodable or unknown frames. Listeners drop the
// frame and continue.
var ErrMalformed = errors.New("malformed frame")

// MaxChunkSize is the largest file chunk payload whose encoded FILE_DATA
// frame fits a single transport frame. Base64 expands the chunk by 4/3,
// and the envelope plus index fields need the rest of the 255 bytes.
const MaxChunkSize = 144

// Type tags a frame on the wire.
type Type string

const (
	TypePing         Type = "PING"
	TypePong         Type = "PONG"
	TypeFileInfo     Type = "FILE_INFO"
	TypeFileData     Type = "FILE_DATA"
	TypeFileComplete Type = "FILE_COMPLETE"
	TypeAck          Type = "ACK"
	TypeBeacon       Type = "BEACON"
	TypeEcho         Type = "ECHO"
)

// Frame is the tagged union of every message the protocols exchange.
// Only the fields relevant to the tagged type are populated.
type Frame struct {
	Type Type   `json:"type"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// Ping / Pong / Beacon. Sequence numbers start at 1 and increase
	// monotonically per sender per session.
	Seq          int    `json:"seq,omitempty"`
	SentUnixNano int64  `json:"sent,omitempty"` // ping send time, echoed back in the pong
	Pad          string `json:"pad,omitempty"`  // sizing filler

	// File transfer.
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Chunks   int    `json:"chunks,omitempty"` // announced chunk count
	Digest   string `json:"digest,omitempty"` // hex digest of the whole byte stream
	Chunk    int    `json:"chunk,omitempty"`  // chunk index, 0-based
	Total    int    `json:"total,omitempty"`  // repeats the chunk count per data frame
	Data     []byte `json:"data,omitempty"`

	// Echo envelope: the payload heard and retransmitted.
	Payload []byte `json:"payload,omitempty"`
}

var knownTypes = map[Type]bool{
	TypePing: true, TypePong: true,
	TypeFileInfo: true, TypeFileData: true, TypeFileComplete: true,
	TypeAck: true, TypeBeacon: true, TypeEcho: true,
}

// Encode serializes a frame for transmission.
func Encode(f *Frame) ([]byte, error) {
	if !knownTypes[f.Type] {
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, f.Type)
	}
	return json.Marshal(f)
}

// Decode parses a received payload. Unknown or undecodable input returns
// ErrMalformed; the caller is responsible for skipping it and continuing
// to listen.
func Decode(payload []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !knownTypes[f.Type] {
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, f.Type)
	}
	return &f, nil
}

// pingOverhead is the JSON envelope around the pad, excluding the node
// id fields, assuming a nanosecond timestamp and up to four seq digits.
const pingOverhead = 80

// NewPing builds a probe frame padded toward the requested wire size. The
// pad is clamped so the encoded probe never exceeds what a transport can
// carry in one frame, whatever size the operator asked for.
func NewPing(from, to string, seq int, sentAt time.Time, size int) *Frame {
	overhead := pingOverhead + len(from) + len(to)
	padLen := size - overhead
	if padLen < 0 {
		padLen = 0
	}
	if max := transport.MaxFrameSize - overhead; padLen > max {
		padLen = max
	}
	return &Frame{
		Type:         TypePing,
		From:         from,
		To:           to,
		Seq:          seq,
		SentUnixNano: sentAt.UnixNano(),
		Pad:          strings.Repeat("X", padLen),
	}
}

// NewPong answers a ping, echoing its sequence and send time.
func NewPong(from string, ping *Frame) *Frame {
	return &Frame{
		Type:         TypePong,
		From:         from,
		To:           ping.From,
		Seq:          ping.Seq,
		SentUnixNano: ping.SentUnixNano,
	}
}

// NewFileInfo announces an upcoming transfer.
func NewFileInfo(from, to, filename string, size int64, chunks int, digest string) *Frame {
	return &Frame{
		Type:     TypeFileInfo,
		From:     from,
		To:       to,
		Filename: filename,
		Size:     size,
		Chunks:   chunks,
		Digest:   digest,
	}
}

// NewFileData wraps one chunk.
func NewFileData(index, total int, data []byte) *Frame {
	return &Frame{Type: TypeFileData, Chunk: index, Total: total, Data: data}
}

// NewFileComplete closes a transfer, repeating the announced digest.
func NewFileComplete(filename, digest string) *Frame {
	return &Frame{Type: TypeFileComplete, Filename: filename, Digest: digest}
}

// NewAck acknowledges on behalf of a node.
func NewAck(from string) *Frame {
	return &Frame{Type: TypeAck, From: from}
}

// NewBeacon builds a beacon marker with its emission counter.
func NewBeacon(from string, seq int) *Frame {
	return &Frame{Type: TypeBeacon, From: from, Seq: seq}
}

// NewEcho wraps a heard payload for retransmission.
func NewEcho(from string, payload []byte) *Frame {
	return &Frame{Type: TypeEcho, From: from, Payload: payload}
}
