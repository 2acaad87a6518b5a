// Package filetransfer implements chunked, acknowledged bulk transfer
// with an end-to-end integrity check.
//
// The sender announces the file, waits once for an acknowledgement, then
// streams fixed-size chunks fire-and-forget in increasing index order.
// Nothing is retransmitted: loss surfaces at reassembly, where the
// receiver tracks the received index set explicitly and verifies the
// whole-file digest.
package filetransfer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lora-link/llt/internal/frame"
	"github.com/lora-link/llt/internal/transport"
)

// Sender streams one file to the peer node.
type Sender struct {
	Transport transport.Transport
	NodeID    string
	Dest      string

	// ChunkSize is the payload bytes per data frame; zero means
	// frame.MaxChunkSize, the largest value whose encoded frame fits a
	// single transport frame.
	ChunkSize int
	// WindowSize is the number of chunks between pacing delays; zero
	// means 5.
	WindowSize int
	// AckDeadline bounds the wait for the receiver's acknowledgement;
	// zero means 5s. Absence is a hard failure, never retried.
	AckDeadline time.Duration
	// ChunkPace is the delay inserted every WindowSize chunks so the
	// receiver is not overrun; zero means 100ms.
	ChunkPace time.Duration

	Logf func(format string, args ...interface{})
}

func (s *Sender) logf(format string, args ...interface{}) {
	if s.Logf != nil {
		s.Logf(format, args...)
	}
}

// Send transfers the file at path to the destination node.
func (s *Sender) Send(ctx context.Context, path string) error {
	chunkSize := s.ChunkSize
	if chunkSize == 0 {
		chunkSize = frame.MaxChunkSize
	}
	windowSize := s.WindowSize
	if windowSize == 0 {
		windowSize = 5
	}
	ackDeadline := s.AckDeadline
	if ackDeadline == 0 {
		ackDeadline = 5 * time.Second
	}
	pace := s.ChunkPace
	if pace == 0 {
		pace = 100 * time.Millisecond
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	filename := filepath.Base(path)
	digest := md5.Sum(data)
	digestHex := hex.EncodeToString(digest[:])
	total := (len(data) + chunkSize - 1) / chunkSize

	s.logf("sending %s: %d bytes, %d chunks, digest %s", filename, len(data), total, digestHex)

	// Announce the transfer.
	info, err := frame.Encode(frame.NewFileInfo(s.NodeID, s.Dest, filename, int64(len(data)), total, digestHex))
	if err != nil {
		return err
	}
	if err := s.Transport.Send(info); err != nil {
		return fmt.Errorf("failed to send file info: %w", err)
	}

	if err := s.awaitAck(ackDeadline); err != nil {
		return err
	}

	// Stream the chunks in strictly increasing order, no per-chunk ack.
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := (i + 1) * chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk, err := frame.Encode(frame.NewFileData(i, total, data[i*chunkSize:end]))
		if err != nil {
			return err
		}
		if err := s.Transport.Send(chunk); err != nil {
			// An oversized frame is deterministic, every chunk would be
			// rejected the same way; that is a hard failure, not link loss.
			if errors.Is(err, transport.ErrPayloadTooLarge) {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			// Dropped chunks are detected at reassembly, not here.
			s.logf("chunk %d send failed: %v", i, err)
		}

		if (i+1)%windowSize == 0 && i+1 < total {
			time.Sleep(pace)
		}
	}

	complete, err := frame.Encode(frame.NewFileComplete(filename, digestHex))
	if err != nil {
		return err
	}
	if err := s.Transport.Send(complete); err != nil {
		return fmt.Errorf("failed to send completion: %w", err)
	}

	s.logf("transfer of %s finished", filename)
	return nil
}

// awaitAck blocks for the receiver's acknowledgement of the announcement.
func (s *Sender) awaitAck(deadline time.Duration) error {
	pkt, err := s.Transport.Receive(deadline)
	if err != nil {
		return fmt.Errorf("no acknowledgement received: %w", err)
	}
	ack, err := frame.Decode(pkt.Payload)
	if err != nil {
		return fmt.Errorf("no acknowledgement received: %w", err)
	}
	if ack.Type != frame.TypeAck {
		return fmt.Errorf("no acknowledgement received: got %s", ack.Type)
	}
	return nil
}
