package transport

import (
	"fmt"
	"time"
)

// Unavailable is the degraded transport used when no radio hardware could
// be opened. Every operation fails soft with ErrUnavailable so callers can
// keep running and report "no radio" instead of crashing.
type Unavailable struct {
	Backend string
	Reason  error
}

// NewUnavailable wraps an open failure in a degraded transport.
func NewUnavailable(backend string, reason error) *Unavailable {
	return &Unavailable{Backend: backend, Reason: reason}
}

func (u *Unavailable) Send(payload []byte) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, u.Reason)
}

func (u *Unavailable) Receive(timeout time.Duration) (*Packet, error) {
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, u.Reason)
}

func (u *Unavailable) Retune(freqMHz float64) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, u.Reason)
}

func (u *Unavailable) AmbientRSSI() (int, error) {
	return 0, fmt.Errorf("%w: %v", ErrUnavailable, u.Reason)
}

func (u *Unavailable) Status() (*ModuleStatus, error) {
	return &ModuleStatus{Backend: u.Backend, Available: false}, nil
}

func (u *Unavailable) Close() error { return nil }
