// Package mode arbitrates exclusive background use of the radio.
//
// Exactly one long-running behavior, beacon emission or echo responding,
// may occupy the transceiver at a time; foreground operations interleave
// through the transport's own exclusion boundary. Stopping is
// cooperative: loops observe their context between hardware operations,
// so a stop is acknowledged immediately but the loop may take up to one
// receive window to vacate the radio.
package mode

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/lora-link/llt/internal/frame"
	"github.com/lora-link/llt/internal/transport"
)

// State names the scheduler's current occupant.
type State string

const (
	Idle      State = "idle"
	Beaconing State = "beacon"
	Echoing   State = "echo"
)

// Status is the externally visible mode report.
type Status struct {
	Active      State `json:"active"`
	BeaconsSent int   `json:"beaconsSent"`
	EchoesSent  int   `json:"echoesSent"`
}

// Scheduler owns the mode state and the background loops.
type Scheduler struct {
	tr     transport.Transport
	nodeID string

	// Timings; zero values fall back to the defaults below.
	BeaconInterval   time.Duration
	EchoListenWindow time.Duration
	EchoReplyPause   time.Duration
	UnavailableRetry time.Duration
	GracePeriod      time.Duration

	mu          sync.Mutex
	state       State
	cancel      context.CancelFunc
	done        chan struct{} // closed by the active loop when it has vacated
	beaconCount int
	echoCount   int
}

// NewScheduler creates an idle scheduler over the shared transport.
func NewScheduler(tr transport.Transport, nodeID string) *Scheduler {
	return &Scheduler{tr: tr, nodeID: nodeID, state: Idle}
}

func (s *Scheduler) beaconInterval() time.Duration {
	if s.BeaconInterval > 0 {
		return s.BeaconInterval
	}
	return 5 * time.Second
}

func (s *Scheduler) echoListenWindow() time.Duration {
	if s.EchoListenWindow > 0 {
		return s.EchoListenWindow
	}
	return 30 * time.Second
}

func (s *Scheduler) echoReplyPause() time.Duration {
	if s.EchoReplyPause > 0 {
		return s.EchoReplyPause
	}
	return 500 * time.Millisecond
}

func (s *Scheduler) unavailableRetry() time.Duration {
	if s.UnavailableRetry > 0 {
		return s.UnavailableRetry
	}
	return 5 * time.Second
}

// Status reports the active mode and its counters.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Active: s.state, BeaconsSent: s.beaconCount, EchoesSent: s.echoCount}
}

// StartBeacon launches the beacon loop, first stopping an active echo
// loop and waiting until it has vacated the transport. Starting an
// already-running beacon is a no-op success that leaves counters alone.
func (s *Scheduler) StartBeacon(interval time.Duration) (string, bool) {
	if interval <= 0 {
		interval = s.beaconInterval()
	}
	started := s.start(Beaconing, func(ctx context.Context, done chan struct{}) {
		s.beaconLoop(ctx, interval, done)
	})
	if !started {
		return "beacon already running", false
	}
	return "beacon started", true
}

// StartEcho launches the echo loop, symmetric to StartBeacon.
func (s *Scheduler) StartEcho() (string, bool) {
	started := s.start(Echoing, func(ctx context.Context, done chan struct{}) {
		s.echoLoop(ctx, done)
	})
	if !started {
		return "echo already running", false
	}
	return "echo mode started", true
}

// StopBeacon signals the beacon loop to exit. The acknowledgement is
// immediate; the loop vacates at its next safe point.
func (s *Scheduler) StopBeacon() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Beaconing {
		return "beacon not running", s.beaconCount
	}
	s.cancel()
	s.state = Idle
	return "beacon stopping", s.beaconCount
}

// StopEcho signals the echo loop to exit.
func (s *Scheduler) StopEcho() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Echoing {
		return "echo not running"
	}
	s.cancel()
	s.state = Idle
	return "echo mode stopping"
}

// Shutdown stops whichever loop is active and waits for it to exit.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.state = Idle
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// start flips the scheduler to the target mode. It cancels the other
// loop if one is active and does not launch the new loop until the old
// one's run flag is observed cleared, so two loops can never race on
// hardware reconfiguration.
func (s *Scheduler) start(target State, launch func(ctx context.Context, done chan struct{})) bool {
	s.mu.Lock()
	if s.state == target {
		s.mu.Unlock()
		return false
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.state = Idle
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	if s.GracePeriod > 0 {
		time.Sleep(s.GracePeriod)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		// Lost a race against a concurrent start.
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = target
	if target == Beaconing {
		s.beaconCount = 0
	}
	go launch(ctx, s.done)
	return true
}

// beaconLoop transmits a numbered marker every interval. When the
// transport reports no hardware it backs off and retries instead of
// terminating; it must survive transient disconnects.
func (s *Scheduler) beaconLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	log.Printf("[beacon] starting, sending every %s", interval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[beacon] stopped")
			return
		default:
		}

		seq := s.peekBeaconSeq()
		payload, err := frame.Encode(frame.NewBeacon(s.nodeID, seq))
		if err != nil {
			log.Printf("[beacon] encode failed: %v", err)
			return
		}

		sendErr := s.tr.Send(payload)
		if errors.Is(sendErr, transport.ErrUnavailable) {
			log.Printf("[beacon] no device, waiting...")
			if !sleepOrDone(ctx, s.unavailableRetry()) {
				log.Printf("[beacon] stopped")
				return
			}
			continue
		}

		if sendErr == nil {
			s.commitBeacon()
			log.Printf("[beacon] #%04d sent", seq)
		} else {
			// The marker number is retried next tick; only frames that
			// made it to the air count.
			log.Printf("[beacon] #%04d failed: %v", seq, sendErr)
		}

		if !sleepOrDone(ctx, interval) {
			log.Printf("[beacon] stopped")
			return
		}
	}
}

// echoLoop listens in bounded windows and retransmits whatever it hears,
// wrapped in an echo envelope, after a brief pause.
func (s *Scheduler) echoLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	log.Printf("[echo] starting, listening for packets")

	for {
		select {
		case <-ctx.Done():
			log.Printf("[echo] stopped")
			return
		default:
		}

		pkt, err := s.tr.Receive(s.echoListenWindow())
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrTimeout):
				// Nothing heard this window, restart the listen cycle.
				continue
			case errors.Is(err, transport.ErrUnavailable):
				log.Printf("[echo] no device, waiting...")
				if !sleepOrDone(ctx, s.unavailableRetry()) {
					log.Printf("[echo] stopped")
					return
				}
			default:
				log.Printf("[echo] receive error: %v", err)
				if !sleepOrDone(ctx, 2*time.Second) {
					log.Printf("[echo] stopped")
					return
				}
			}
			continue
		}

		if !sleepOrDone(ctx, s.echoReplyPause()) {
			log.Printf("[echo] stopped")
			return
		}

		payload, err := frame.Encode(frame.NewEcho(s.nodeID, pkt.Payload))
		if err != nil {
			continue
		}
		if err := s.tr.Send(payload); err != nil {
			log.Printf("[echo] reply failed: %v", err)
			continue
		}
		s.commitEcho()
		log.Printf("[echo] echoed %d bytes", len(pkt.Payload))
	}
}

func (s *Scheduler) peekBeaconSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beaconCount + 1
}

func (s *Scheduler) commitBeacon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beaconCount++
}

func (s *Scheduler) commitEcho() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.echoCount++
}

// sleepOrDone waits d, returning false when the context is canceled.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
