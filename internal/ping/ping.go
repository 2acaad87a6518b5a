// Package ping implements the round-trip probe exchange and its
// statistics aggregation.
//
// The prober sends numbered probes and waits a fixed deadline for the
// matching reply; the responder is a persistent loop that answers every
// valid probe it hears. Round-trip time is measured against the send
// timestamp carried in the probe itself.
package ping

import (
	"context"
	"errors"
	"time"

	"github.com/lora-link/llt/internal/frame"
	"github.com/lora-link/llt/internal/transport"
)

// Prober drives one probe session against a target node.
type Prober struct {
	Transport transport.Transport
	NodeID    string
	Target    string

	Count    int
	Interval time.Duration
	Size     int // requested probe wire size in bytes

	// ReplyDeadline bounds the wait for each pong. Zero means 2s.
	ReplyDeadline time.Duration

	// Now is the clock; nil means time.Now. Injected by tests.
	Now func() time.Time

	// Logf receives per-probe progress lines; nil disables them.
	Logf func(format string, args ...interface{})
}

func (p *Prober) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Prober) logf(format string, args ...interface{}) {
	if p.Logf != nil {
		p.Logf(format, args...)
	}
}

// Run executes the configured number of probes and returns the session
// statistics. A canceled context returns the stats gathered so far.
func (p *Prober) Run(ctx context.Context) (*Stats, error) {
	deadline := p.ReplyDeadline
	if deadline == 0 {
		deadline = 2 * time.Second
	}

	stats := NewStats()
	for seq := 1; seq <= p.Count; seq++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		sendTime := p.now()
		payload, err := frame.Encode(frame.NewPing(p.NodeID, p.Target, seq, sendTime, p.Size))
		if err != nil {
			return stats, err
		}

		if err := p.Transport.Send(payload); err != nil {
			stats.RecordLoss()
			p.logf("[%d] transmission failed: %v", seq, err)
		} else {
			p.awaitReply(stats, seq, sendTime, deadline)
		}

		if seq < p.Count && p.Interval > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(p.Interval):
			}
		}
	}
	return stats, nil
}

// awaitReply waits one deadline for the pong matching seq. Anything else
// counts as a lost probe.
func (p *Prober) awaitReply(stats *Stats, seq int, sendTime time.Time, deadline time.Duration) {
	pkt, err := p.Transport.Receive(deadline)
	if err != nil {
		stats.RecordLoss()
		p.logf("[%d] request timeout", seq)
		return
	}

	reply, err := frame.Decode(pkt.Payload)
	if err != nil {
		stats.RecordLoss()
		p.logf("[%d] malformed reply", seq)
		return
	}
	if reply.Type != frame.TypePong || reply.Seq != seq {
		stats.RecordLoss()
		p.logf("[%d] invalid reply (type=%s seq=%d)", seq, reply.Type, reply.Seq)
		return
	}

	rtt := float64(p.now().Sub(sendTime)) / float64(time.Millisecond)
	stats.RecordSuccess(rtt, pkt.RSSI, pkt.HasSignal)
	p.logf("[%d] reply from %s: time=%.1fms rssi=%ddBm snr=%.1fdB",
		seq, reply.From, rtt, pkt.RSSI, pkt.SNR)
}

// Responder answers probes until its context is canceled.
type Responder struct {
	Transport transport.Transport
	NodeID    string

	// PollWindow bounds each listen; zero means 10s.
	PollWindow time.Duration

	// UnavailableRetry is the backoff when the transport reports no
	// hardware; zero means 5s.
	UnavailableRetry time.Duration

	Logf func(format string, args ...interface{})
}

func (r *Responder) logf(format string, args ...interface{}) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

// Run listens in bounded windows and immediately answers each valid ping
// before resuming. Transport failures are logged and survived.
func (r *Responder) Run(ctx context.Context) error {
	window := r.PollWindow
	if window == 0 {
		window = 10 * time.Second
	}
	retry := r.UnavailableRetry
	if retry == 0 {
		retry = 5 * time.Second
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pkt, err := r.Transport.Receive(window)
		if err != nil {
			if errors.Is(err, transport.ErrUnavailable) {
				r.logf("no radio, retrying in %s", retry)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(retry):
				}
			}
			continue
		}

		req, err := frame.Decode(pkt.Payload)
		if err != nil || req.Type != frame.TypePing {
			continue
		}

		r.logf("ping from %s: seq=%d rssi=%ddBm", req.From, req.Seq, pkt.RSSI)
		payload, err := frame.Encode(frame.NewPong(r.NodeID, req))
		if err != nil {
			continue
		}
		if err := r.Transport.Send(payload); err != nil {
			r.logf("pong send failed: %v", err)
		}
	}
}
