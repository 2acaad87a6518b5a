package transport

import (
	"errors"
	"testing"
	"time"
)

func TestUnavailableFailsSoft(t *testing.T) {
	u := NewUnavailable("sx127x", errors.New("spi open failed"))

	if err := u.Send([]byte("x")); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Send err = %v, want ErrUnavailable", err)
	}
	if _, err := u.Receive(time.Second); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Receive err = %v, want ErrUnavailable", err)
	}
	if err := u.Retune(915.0); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Retune err = %v, want ErrUnavailable", err)
	}
	if _, err := u.AmbientRSSI(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("AmbientRSSI err = %v, want ErrUnavailable", err)
	}
	if err := u.Close(); err != nil {
		t.Errorf("Close err = %v, want nil", err)
	}
}

func TestUnavailableStatus(t *testing.T) {
	u := NewUnavailable("rn2483", errors.New("no such device"))
	st, err := u.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Available {
		t.Error("degraded transport reported available")
	}
	if st.Backend != "rn2483" {
		t.Errorf("backend = %q, want rn2483", st.Backend)
	}
}
