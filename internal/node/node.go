// Package node is the foreground entry surface of the link tester.
//
// It owns the lazily-opened transport and the single mode scheduler, and
// exposes every operation the CLI (or a dashboard acting as an external
// caller) invokes. Operations return a typed result plus a diagnostic;
// hardware absence degrades to a flagged "unavailable" outcome and never
// takes the process down.
package node

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lora-link/llt/internal/config"
	"github.com/lora-link/llt/internal/filetransfer"
	"github.com/lora-link/llt/internal/mode"
	"github.com/lora-link/llt/internal/ping"
	"github.com/lora-link/llt/internal/results"
	"github.com/lora-link/llt/internal/scan"
	"github.com/lora-link/llt/internal/transport"
	"github.com/lora-link/llt/internal/transport/rn2483"
	"github.com/lora-link/llt/internal/transport/sx127x"
)

// Node wires the protocol engines over one shared transport.
type Node struct {
	cfg *config.Config

	mu    sync.Mutex
	tr    transport.Transport
	sched *mode.Scheduler

	results *results.Logger
}

// New creates a node; the radio is not touched until the first operation
// needs it.
func New(cfg *config.Config) *Node {
	return &Node{cfg: cfg}
}

// SetResults attaches the persistent result sink.
func (n *Node) SetResults(r *results.Logger) {
	n.results = r
}

// Transport returns the shared transport, opening the configured
// back-end on first use. Open failures degrade to an unavailable stub so
// every later call fails soft.
func (n *Node) Transport() transport.Transport {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.tr != nil {
		return n.tr
	}
	n.tr = openBackend(n.cfg)
	return n.tr
}

func openBackend(cfg *config.Config) transport.Transport {
	switch cfg.Hardware.Backend {
	case "sx127x":
		tr, err := sx127x.Open(cfg.Hardware, cfg.Radio)
		if err != nil {
			log.Printf("sx127x open failed, running degraded: %v", err)
			return transport.NewUnavailable("sx127x", err)
		}
		log.Printf("sx127x ready: %.1fMHz SF%d BW%dkHz",
			cfg.Radio.FrequencyMHz, cfg.Radio.SpreadingFactor, cfg.Radio.BandwidthKHz)
		return tr
	case "rn2483":
		tr, err := rn2483.Open(cfg.Hardware, cfg.Radio)
		if err != nil {
			log.Printf("rn2483 open failed, running degraded: %v", err)
			return transport.NewUnavailable("rn2483", err)
		}
		log.Printf("rn2483 ready on %s", cfg.Hardware.SerialDevice)
		return tr
	default:
		return transport.NewUnavailable(cfg.Hardware.Backend, fmt.Errorf("no backend configured"))
	}
}

// scheduler lazily builds the mode scheduler over the shared transport.
func (n *Node) scheduler() *mode.Scheduler {
	tr := n.Transport()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sched == nil {
		n.sched = mode.NewScheduler(tr, n.cfg.Radio.NodeID)
		n.sched.BeaconInterval = n.cfg.Timing.BeaconInterval
		n.sched.EchoListenWindow = n.cfg.Timing.EchoListenWindow
		n.sched.EchoReplyPause = n.cfg.Timing.EchoReplyPause
		n.sched.UnavailableRetry = n.cfg.Timing.UnavailableRetry
		n.sched.GracePeriod = n.cfg.Timing.ModeGracePeriod
	}
	return n.sched
}

// record persists one outcome; persistence failures are logged, never
// propagated into the operation result.
func (n *Node) record(op, target, outcome, detail string, metrics map[string]interface{}) {
	if n.results == nil {
		return
	}
	if err := n.results.Record(op, target, outcome, detail, metrics); err != nil {
		log.Printf("failed to record result: %v", err)
	}
}

// PingReport is a finished probe session with the derived link metrics.
// Data rate and airtime come from the radio configuration, not from
// measurement; they are operator context only.
type PingReport struct {
	Stats        *ping.Stats
	DataRateKbps float64
	AirtimeMs    float64
}

// Ping runs a probe session against the target node.
func (n *Node) Ping(ctx context.Context, target string, count int, interval time.Duration, size int) (*PingReport, error) {
	prober := &ping.Prober{
		Transport:     n.Transport(),
		NodeID:        n.cfg.Radio.NodeID,
		Target:        target,
		Count:         count,
		Interval:      interval,
		Size:          size,
		ReplyDeadline: n.cfg.Timing.ReplyDeadline,
		Logf:          log.Printf,
	}
	stats, err := prober.Run(ctx)
	report := &PingReport{
		Stats:        stats,
		DataRateKbps: n.cfg.Radio.DataRateKbps(),
		AirtimeMs:    n.cfg.Radio.AirtimeMs(size),
	}

	outcome := "ok"
	if err != nil {
		outcome = "aborted"
	}
	n.record("ping", target, outcome, "", map[string]interface{}{
		"sent":        stats.Sent,
		"received":    stats.Received,
		"lost":        stats.Lost,
		"lossPercent": stats.LossPercent(),
		"rttAvgMs":    stats.RTTAvgMs,
	})
	return report, err
}

// RespondToPings answers probes until the context is canceled.
func (n *Node) RespondToPings(ctx context.Context) error {
	responder := &ping.Responder{
		Transport:        n.Transport(),
		NodeID:           n.cfg.Radio.NodeID,
		PollWindow:       n.cfg.Timing.PollWindow,
		UnavailableRetry: n.cfg.Timing.UnavailableRetry,
		Logf:             log.Printf,
	}
	return responder.Run(ctx)
}

// SendFile streams a file to the destination node. The boolean reports
// success; the string carries the operator diagnostic either way.
func (n *Node) SendFile(ctx context.Context, path, dest string) (bool, string) {
	sender := &filetransfer.Sender{
		Transport:   n.Transport(),
		NodeID:      n.cfg.Radio.NodeID,
		Dest:        dest,
		ChunkSize:   n.cfg.Link.ChunkSize,
		WindowSize:  n.cfg.Link.WindowSize,
		AckDeadline: n.cfg.Timing.AckDeadline,
		ChunkPace:   n.cfg.Timing.ChunkPace,
		Logf:        log.Printf,
	}
	if err := sender.Send(ctx, path); err != nil {
		detail := fmt.Sprintf("transfer failed: %v", err)
		n.record("file_send", dest, "failed", detail, nil)
		return false, detail
	}
	n.record("file_send", dest, "ok", path, nil)
	return true, "transfer complete"
}

// ReceiveFile waits for one incoming transfer and saves it under
// saveDir, reporting the verification outcome.
func (n *Node) ReceiveFile(ctx context.Context, saveDir string) (*filetransfer.Result, error) {
	receiver := &filetransfer.Receiver{
		Transport:  n.Transport(),
		NodeID:     n.cfg.Radio.NodeID,
		SaveDir:    saveDir,
		PollWindow: n.cfg.Timing.PollWindow,
		Logf:       log.Printf,
	}
	res, err := receiver.Receive(ctx)
	if err != nil {
		n.record("file_receive", "", "failed", err.Error(), nil)
		return nil, err
	}
	outcome := "verified"
	if !res.Verified {
		outcome = "verification failed"
	}
	n.record("file_receive", "", outcome, res.Path, map[string]interface{}{
		"size":    res.Size,
		"missing": len(res.MissingChunks),
	})
	return res, nil
}

// ScanSpectrum sweeps the range and returns the samples plus the
// clearest/noisiest summary.
func (n *Node) ScanSpectrum(ctx context.Context, startMHz, endMHz, stepMHz float64, fn func(scan.Sample)) ([]scan.Sample, *scan.Summary, error) {
	cfg := scan.Config{
		StartMHz: startMHz,
		EndMHz:   endMHz,
		StepMHz:  stepMHz,
		Settle:   n.cfg.Timing.ScanSettle,
	}
	samples, summary, err := scan.Sweep(ctx, n.Transport(), cfg, fn)
	if err != nil {
		n.record("spectrum", "", "failed", err.Error(), nil)
		return samples, nil, err
	}
	n.record("spectrum", "", "ok", "", map[string]interface{}{
		"points":      len(samples),
		"clearestMhz": summary.Clearest.FreqMHz,
		"noisiestMhz": summary.Noisiest.FreqMHz,
	})
	return samples, summary, nil
}

// StartBeacon starts background beacon emission. Starting an active
// beacon is a no-op success.
func (n *Node) StartBeacon(interval time.Duration) string {
	msg, started := n.scheduler().StartBeacon(interval)
	if started {
		n.record("beacon", "", "started", msg, nil)
	}
	return msg
}

// StopBeacon stops beacon emission and reports how many were sent.
func (n *Node) StopBeacon() string {
	msg, sent := n.scheduler().StopBeacon()
	n.record("beacon", "", "stopped", msg, map[string]interface{}{"beaconsSent": sent})
	return fmt.Sprintf("%s (%d sent)", msg, sent)
}

// StartEcho starts the background echo responder.
func (n *Node) StartEcho() string {
	msg, started := n.scheduler().StartEcho()
	if started {
		n.record("echo", "", "started", msg, nil)
	}
	return msg
}

// StopEcho stops the echo responder.
func (n *Node) StopEcho() string {
	msg := n.scheduler().StopEcho()
	n.record("echo", "", "stopped", msg, nil)
	return msg
}

// ModeStatus reports the active background mode and its counters.
func (n *Node) ModeStatus() mode.Status {
	return n.scheduler().Status()
}

// ModuleStatus reports module identity, or an unavailable placeholder
// when the radio cannot be queried.
func (n *Node) ModuleStatus() *transport.ModuleStatus {
	st, err := n.Transport().Status()
	if err != nil {
		return &transport.ModuleStatus{Backend: n.cfg.Hardware.Backend, Available: false}
	}
	return st
}

// Detect probes for a register-mode chipset on the known wirings.
func (n *Node) Detect() (*sx127x.DetectResult, error) {
	return sx127x.Detect(n.cfg.Hardware)
}

// Close stops background modes and releases the radio.
func (n *Node) Close() {
	n.mu.Lock()
	sched := n.sched
	tr := n.tr
	n.mu.Unlock()

	if sched != nil {
		sched.Shutdown()
	}
	if tr != nil {
		if err := tr.Close(); err != nil {
			log.Printf("transport close failed: %v", err)
		}
	}
	if n.results != nil {
		if err := n.results.Close(); err != nil {
			log.Printf("results close failed: %v", err)
		}
	}
}
