// Package scan sweeps the tunable frequency range measuring ambient
// channel energy.
//
// The scanner works below the codec: it only retunes the transport and
// samples raw RSSI, no demodulation. Each call to Sweep is an
// independent, restartable pass over the range.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lora-link/llt/internal/transport"
)

var (
	// ErrInvalidRange indicates start/end/step do not describe a sweep.
	ErrInvalidRange = errors.New("invalid sweep range")

	// ErrNoSamples indicates the sweep produced no measurements.
	ErrNoSamples = errors.New("sweep produced no samples")
)

// Config describes one sweep.
type Config struct {
	StartMHz float64
	EndMHz   float64
	StepMHz  float64

	// Settle is the delay between retuning and sampling; zero means 50ms.
	Settle time.Duration
}

// Validate checks the sweep parameters.
func (c Config) Validate() error {
	if c.StartMHz <= 0 || c.EndMHz <= 0 {
		return fmt.Errorf("%w: frequencies must be positive", ErrInvalidRange)
	}
	if c.EndMHz < c.StartMHz {
		return fmt.Errorf("%w: end %.1f below start %.1f", ErrInvalidRange, c.EndMHz, c.StartMHz)
	}
	if c.StepMHz <= 0 {
		return fmt.Errorf("%w: step must be positive", ErrInvalidRange)
	}
	return nil
}

// Sample is one measurement point.
type Sample struct {
	FreqMHz float64
	RSSI    int // dBm
}

// Summary reports the extremes of a finished sweep. Ties break toward
// the first occurrence.
type Summary struct {
	Clearest Sample // minimum RSSI
	Noisiest Sample // maximum RSSI
}

// Sweep steps the transport from start to end, settling after each
// retune before sampling instantaneous RSSI. Every sample is streamed to
// fn (if non-nil) as it is taken, and the full series plus the summary
// are returned at the end.
func Sweep(ctx context.Context, tr transport.Transport, cfg Config, fn func(Sample)) ([]Sample, *Summary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	settle := cfg.Settle
	if settle == 0 {
		settle = 50 * time.Millisecond
	}

	var samples []Sample
	for freq := cfg.StartMHz; freq <= cfg.EndMHz+1e-9; freq += cfg.StepMHz {
		if err := ctx.Err(); err != nil {
			return samples, nil, err
		}

		if err := tr.Retune(freq); err != nil {
			return samples, nil, fmt.Errorf("retune to %.1f MHz: %w", freq, err)
		}
		time.Sleep(settle)

		rssi, err := tr.AmbientRSSI()
		if err != nil {
			return samples, nil, fmt.Errorf("sample at %.1f MHz: %w", freq, err)
		}

		sample := Sample{FreqMHz: freq, RSSI: rssi}
		samples = append(samples, sample)
		if fn != nil {
			fn(sample)
		}
	}

	if len(samples) == 0 {
		return nil, nil, ErrNoSamples
	}

	summary := &Summary{Clearest: samples[0], Noisiest: samples[0]}
	for _, s := range samples[1:] {
		if s.RSSI < summary.Clearest.RSSI {
			summary.Clearest = s
		}
		if s.RSSI > summary.Noisiest.RSSI {
			summary.Noisiest = s
		}
	}
	return samples, summary, nil
}
