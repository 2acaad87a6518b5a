package ping

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lora-link/llt/internal/frame"
	"github.com/lora-link/llt/internal/transport"
)

type mockTransport struct {
	sendFn    func(payload []byte) error
	receiveFn func(timeout time.Duration) (*transport.Packet, error)
}

func (m *mockTransport) Send(payload []byte) error {
	if m.sendFn != nil {
		return m.sendFn(payload)
	}
	return nil
}

func (m *mockTransport) Receive(timeout time.Duration) (*transport.Packet, error) {
	if m.receiveFn != nil {
		return m.receiveFn(timeout)
	}
	return nil, transport.ErrTimeout
}

func (m *mockTransport) Retune(float64) error            { return nil }
func (m *mockTransport) AmbientRSSI() (int, error)       { return 0, transport.ErrNotSupported }
func (m *mockTransport) Status() (*transport.ModuleStatus, error) {
	return &transport.ModuleStatus{Available: true}, nil
}
func (m *mockTransport) Close() error { return nil }

// fakeClock advances only when told, making RTT deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestProberAllAnswered(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}

	var pending *frame.Frame
	tr := &mockTransport{
		sendFn: func(payload []byte) error {
			f, err := frame.Decode(payload)
			if err != nil {
				t.Fatalf("prober sent undecodable payload: %v", err)
			}
			if f.Type != frame.TypePing {
				t.Fatalf("prober sent %s, want PING", f.Type)
			}
			pending = f
			return nil
		},
		receiveFn: func(time.Duration) (*transport.Packet, error) {
			if pending == nil {
				return nil, transport.ErrTimeout
			}
			clock.Advance(15 * time.Millisecond)
			payload, err := frame.Encode(frame.NewPong("NODE_B", pending))
			if err != nil {
				t.Fatalf("encode pong: %v", err)
			}
			pending = nil
			return &transport.Packet{Payload: payload, RSSI: -70, SNR: 8.5, HasSignal: true}, nil
		},
	}

	p := &Prober{
		Transport: tr,
		NodeID:    "NODE_A",
		Target:    "NODE_B",
		Count:     5,
		Now:       clock.Now,
	}
	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.Sent != 5 || stats.Received != 5 || stats.Lost != 0 {
		t.Errorf("sent/received/lost = %d/%d/%d, want 5/5/0", stats.Sent, stats.Received, stats.Lost)
	}
	if got := stats.LossPercent(); got != 0 {
		t.Errorf("loss = %.1f%%, want 0", got)
	}
	if stats.RTTMinMs != 15 || stats.RTTMaxMs != 15 || stats.RTTAvgMs != 15 {
		t.Errorf("rtt min/avg/max = %.1f/%.1f/%.1f, want 15/15/15",
			stats.RTTMinMs, stats.RTTAvgMs, stats.RTTMaxMs)
	}
	if stats.RSSISamples() != 5 || stats.RSSIAvg != -70 {
		t.Errorf("rssi samples/avg = %d/%.0f, want 5/-70", stats.RSSISamples(), stats.RSSIAvg)
	}
}

func TestProberCountsLosses(t *testing.T) {
	seq := 0
	tr := &mockTransport{
		sendFn: func([]byte) error {
			seq++
			return nil
		},
		receiveFn: func(time.Duration) (*transport.Packet, error) {
			// Every other probe goes unanswered.
			if seq%2 == 0 {
				return nil, transport.ErrTimeout
			}
			payload, _ := frame.Encode(&frame.Frame{Type: frame.TypePong, From: "NODE_B", Seq: seq})
			return &transport.Packet{Payload: payload}, nil
		},
	}

	p := &Prober{Transport: tr, NodeID: "NODE_A", Target: "NODE_B", Count: 4}
	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Sent != 4 || stats.Received != 2 || stats.Lost != 2 {
		t.Errorf("sent/received/lost = %d/%d/%d, want 4/2/2", stats.Sent, stats.Received, stats.Lost)
	}
	if got := stats.LossPercent(); got != 50 {
		t.Errorf("loss = %.1f%%, want 50", got)
	}
}

func TestProberSendFailureIsLoss(t *testing.T) {
	tr := &mockTransport{
		sendFn: func([]byte) error { return transport.ErrUnavailable },
	}
	p := &Prober{Transport: tr, NodeID: "NODE_A", Target: "NODE_B", Count: 3}
	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Sent != 3 || stats.Lost != 3 {
		t.Errorf("sent/lost = %d/%d, want 3/3", stats.Sent, stats.Lost)
	}
	if got := stats.LossPercent(); got != 100 {
		t.Errorf("loss = %.1f%%, want 100", got)
	}
}

func TestProberRejectsWrongSeq(t *testing.T) {
	tr := &mockTransport{
		receiveFn: func(time.Duration) (*transport.Packet, error) {
			payload, _ := frame.Encode(&frame.Frame{Type: frame.TypePong, From: "NODE_B", Seq: 99})
			return &transport.Packet{Payload: payload}, nil
		},
	}
	p := &Prober{Transport: tr, NodeID: "NODE_A", Target: "NODE_B", Count: 1}
	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Received != 0 || stats.Lost != 1 {
		t.Errorf("received/lost = %d/%d, want 0/1", stats.Received, stats.Lost)
	}
}

func TestResponderAnswersPing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ping := frame.NewPing("NODE_A", "NODE_B", 3, time.Unix(1700000000, 0), 50)
	pingPayload, err := frame.Encode(ping)
	if err != nil {
		t.Fatalf("encode ping: %v", err)
	}

	delivered := false
	sent := make(chan *frame.Frame, 1)
	tr := &mockTransport{
		receiveFn: func(time.Duration) (*transport.Packet, error) {
			if delivered {
				<-ctx.Done()
				return nil, transport.ErrTimeout
			}
			delivered = true
			return &transport.Packet{Payload: pingPayload, RSSI: -80, HasSignal: true}, nil
		},
		sendFn: func(payload []byte) error {
			f, err := frame.Decode(payload)
			if err != nil {
				t.Errorf("responder sent undecodable payload: %v", err)
				return nil
			}
			sent <- f
			return nil
		},
	}

	r := &Responder{Transport: tr, NodeID: "NODE_B"}
	go r.Run(ctx)

	select {
	case pong := <-sent:
		if pong.Type != frame.TypePong {
			t.Errorf("type = %s, want PONG", pong.Type)
		}
		if pong.Seq != 3 {
			t.Errorf("seq = %d, want 3", pong.Seq)
		}
		if pong.To != "NODE_A" {
			t.Errorf("to = %q, want NODE_A", pong.To)
		}
		if pong.SentUnixNano != ping.SentUnixNano {
			t.Errorf("sent = %d, want %d", pong.SentUnixNano, ping.SentUnixNano)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("responder never answered")
	}
}

func TestResponderIgnoresNonPing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	beacon, _ := frame.Encode(frame.NewBeacon("NODE_A", 1))
	delivered := false
	replied := make(chan struct{}, 1)
	tr := &mockTransport{
		receiveFn: func(time.Duration) (*transport.Packet, error) {
			if delivered {
				cancel()
				return nil, transport.ErrTimeout
			}
			delivered = true
			return &transport.Packet{Payload: beacon}, nil
		},
		sendFn: func([]byte) error {
			replied <- struct{}{}
			return nil
		},
	}

	r := &Responder{Transport: tr, NodeID: "NODE_B"}
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	select {
	case <-replied:
		t.Error("responder answered a non-ping frame")
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("responder did not exit on cancel")
	}
}
