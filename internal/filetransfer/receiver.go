package filetransfer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lora-link/llt/internal/frame"
	"github.com/lora-link/llt/internal/transport"
)

// Result reports one completed (verified or not) transfer.
type Result struct {
	Path            string
	Size            int
	Digest          string // digest of the assembled bytes
	AnnouncedDigest string // digest the sender announced
	MissingChunks   []int  // indices never received
	Verified        bool   // digests match and nothing is missing
}

// session tracks one in-flight incoming transfer. A new announcement for
// a different file implicitly discards it.
type session struct {
	info   *frame.Frame
	chunks map[int][]byte
}

// Receiver assembles one incoming transfer.
type Receiver struct {
	Transport transport.Transport
	NodeID    string
	SaveDir   string

	// PollWindow bounds each listen while waiting for frames; zero
	// means 10s.
	PollWindow time.Duration

	Logf func(format string, args ...interface{})
}

func (r *Receiver) logf(format string, args ...interface{}) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

// Receive listens until a completion frame for the tracked file arrives,
// then reassembles, verifies and saves it. The file is written and kept
// even when verification fails, for inspection.
func (r *Receiver) Receive(ctx context.Context) (*Result, error) {
	window := r.PollWindow
	if window == 0 {
		window = 10 * time.Second
	}

	var sess *session
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pkt, err := r.Transport.Receive(window)
		if err != nil {
			if errors.Is(err, transport.ErrUnavailable) {
				return nil, err
			}
			continue
		}

		f, err := frame.Decode(pkt.Payload)
		if err != nil {
			continue
		}

		switch f.Type {
		case frame.TypeFileInfo:
			// A fresh announcement resets the session, discarding any
			// in-flight transfer.
			sess = &session{info: f, chunks: make(map[int][]byte)}
			r.logf("receiving %s: %d bytes, %d chunks", f.Filename, f.Size, f.Chunks)

			ack, err := frame.Encode(frame.NewAck(r.NodeID))
			if err == nil {
				if err := r.Transport.Send(ack); err != nil {
					r.logf("ack send failed: %v", err)
				}
			}

		case frame.TypeFileData:
			if sess == nil {
				continue
			}
			// Out-of-order and duplicate arrival are both fine; the last
			// write for an index wins.
			sess.chunks[f.Chunk] = f.Data

		case frame.TypeFileComplete:
			if sess == nil {
				continue
			}
			return r.assemble(sess, f)
		}
	}
}

// assemble concatenates the chunks in index order, records every missing
// index explicitly and compares digests.
func (r *Receiver) assemble(sess *session, complete *frame.Frame) (*Result, error) {
	var assembled []byte
	var missing []int
	for i := 0; i < sess.info.Chunks; i++ {
		chunk, ok := sess.chunks[i]
		if !ok {
			missing = append(missing, i)
			continue
		}
		assembled = append(assembled, chunk...)
	}
	sort.Ints(missing)

	digest := md5.Sum(assembled)
	digestHex := hex.EncodeToString(digest[:])

	if err := os.MkdirAll(r.SaveDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create save directory: %w", err)
	}
	path := filepath.Join(r.SaveDir, filepath.Base(sess.info.Filename))
	if err := os.WriteFile(path, assembled, 0o644); err != nil {
		return nil, fmt.Errorf("failed to save file: %w", err)
	}

	res := &Result{
		Path:            path,
		Size:            len(assembled),
		Digest:          digestHex,
		AnnouncedDigest: complete.Digest,
		MissingChunks:   missing,
		Verified:        len(missing) == 0 && digestHex == complete.Digest,
	}
	if res.Verified {
		r.logf("saved %s, digest verified", path)
	} else {
		r.logf("saved %s, verification FAILED (missing=%d, digest %s vs %s)",
			path, len(missing), digestHex, complete.Digest)
	}
	return res, nil
}
