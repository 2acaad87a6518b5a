package scan

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/lora-link/llt/internal/transport"
)

// fixtureTransport reports a deterministic RSSI per frequency.
type fixtureTransport struct {
	rssi    map[float64]int
	tuned   []float64
	current float64
}

func (f *fixtureTransport) Retune(freqMHz float64) error {
	f.current = freqMHz
	f.tuned = append(f.tuned, freqMHz)
	return nil
}

func (f *fixtureTransport) AmbientRSSI() (int, error) {
	key := math.Round(f.current*100) / 100
	rssi, ok := f.rssi[key]
	if !ok {
		return -120, nil
	}
	return rssi, nil
}

func (f *fixtureTransport) Send([]byte) error { return nil }
func (f *fixtureTransport) Receive(time.Duration) (*transport.Packet, error) {
	return nil, transport.ErrTimeout
}
func (f *fixtureTransport) Status() (*transport.ModuleStatus, error) {
	return &transport.ModuleStatus{Available: true}, nil
}
func (f *fixtureTransport) Close() error { return nil }

func TestSweepFindsExtremes(t *testing.T) {
	tr := &fixtureTransport{rssi: map[float64]int{
		915.0: -100,
		915.5: -118, // clearest
		916.0: -100,
		916.5: -62, // noisiest
		917.0: -100,
	}}

	cfg := Config{StartMHz: 915.0, EndMHz: 917.0, StepMHz: 0.5, Settle: time.Microsecond}
	var streamed []Sample
	samples, summary, err := Sweep(context.Background(), tr, cfg, func(s Sample) {
		streamed = append(streamed, s)
	})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(samples) != 5 {
		t.Fatalf("got %d samples, want 5", len(samples))
	}
	if len(streamed) != 5 {
		t.Errorf("streamed %d samples, want 5", len(streamed))
	}
	if summary.Clearest.FreqMHz != 915.5 || summary.Clearest.RSSI != -118 {
		t.Errorf("clearest = %.1f MHz %d dBm, want 915.5 -118",
			summary.Clearest.FreqMHz, summary.Clearest.RSSI)
	}
	if summary.Noisiest.FreqMHz != 916.5 || summary.Noisiest.RSSI != -62 {
		t.Errorf("noisiest = %.1f MHz %d dBm, want 916.5 -62",
			summary.Noisiest.FreqMHz, summary.Noisiest.RSSI)
	}
}

func TestSweepTiesBreakToFirst(t *testing.T) {
	tr := &fixtureTransport{rssi: map[float64]int{
		915.0: -90,
		916.0: -90,
		917.0: -90,
	}}
	cfg := Config{StartMHz: 915.0, EndMHz: 917.0, StepMHz: 1.0, Settle: time.Microsecond}
	_, summary, err := Sweep(context.Background(), tr, cfg, nil)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if summary.Clearest.FreqMHz != 915.0 || summary.Noisiest.FreqMHz != 915.0 {
		t.Errorf("tie broke to %.1f/%.1f MHz, want first sample for both",
			summary.Clearest.FreqMHz, summary.Noisiest.FreqMHz)
	}
}

func TestSweepInclusiveEnd(t *testing.T) {
	tr := &fixtureTransport{rssi: map[float64]int{}}
	cfg := Config{StartMHz: 902.0, EndMHz: 903.0, StepMHz: 0.5, Settle: time.Microsecond}
	samples, _, err := Sweep(context.Background(), tr, cfg, nil)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	// 902.0, 902.5, 903.0: the end frequency is sampled despite float
	// step accumulation.
	if len(samples) != 3 {
		t.Errorf("got %d samples, want 3", len(samples))
	}
	if got := samples[len(samples)-1].FreqMHz; math.Abs(got-903.0) > 1e-6 {
		t.Errorf("last sample at %.4f MHz, want 903.0", got)
	}
}

func TestSweepValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zeroStart", Config{StartMHz: 0, EndMHz: 920, StepMHz: 1}},
		{"endBeforeStart", Config{StartMHz: 920, EndMHz: 915, StepMHz: 1}},
		{"zeroStep", Config{StartMHz: 915, EndMHz: 920, StepMHz: 0}},
		{"negativeStep", Config{StartMHz: 915, EndMHz: 920, StepMHz: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Sweep(context.Background(), &fixtureTransport{}, tc.cfg, nil)
			if !errors.Is(err, ErrInvalidRange) {
				t.Errorf("err = %v, want ErrInvalidRange", err)
			}
		})
	}
}

func TestSweepStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := &fixtureTransport{rssi: map[float64]int{}}
	cfg := Config{StartMHz: 902.0, EndMHz: 928.0, StepMHz: 0.1, Settle: time.Microsecond}
	_, _, err := Sweep(ctx, tr, cfg, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(tr.tuned) != 0 {
		t.Errorf("retuned %d times after cancel", len(tr.tuned))
	}
}

func TestSweepUnavailableTransport(t *testing.T) {
	tr := transport.NewUnavailable("none", errors.New("no hardware"))
	cfg := Config{StartMHz: 915.0, EndMHz: 916.0, StepMHz: 1.0, Settle: time.Microsecond}
	_, _, err := Sweep(context.Background(), tr, cfg, nil)
	if !errors.Is(err, transport.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
