// Command llt is the LoRa link tester.
//
// One binary runs on both ends of the link; subcommands select the role
// for this invocation. Long-running roles (pong, recv, beacon, echo) run
// until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lora-link/llt/internal/config"
	"github.com/lora-link/llt/internal/node"
	"github.com/lora-link/llt/internal/results"
	"github.com/lora-link/llt/internal/scan"
)

const usageText = `Usage: llt <command> [flags]

Commands:
  detect    probe the SPI bus for a register-mode LoRa chipset
  status    report module identity and configuration
  ping      probe a peer and measure RTT, loss and signal quality
  pong      answer incoming probes until interrupted
  send      transfer a file to a peer
  recv      receive one file transfer and verify it
  spectrum  sweep a frequency range measuring ambient RSSI
  beacon    emit numbered beacons until interrupted
  echo      retransmit everything heard until interrupted

Run "llt <command> -h" for command flags.
`

func main() {
	log.SetFlags(log.Ltime)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	if err := run(cmd, args); err != nil {
		log.Fatalf("%s failed: %v", cmd, err)
	}
}

// commonFlags registers the flags every subcommand shares and returns
// the config loader. Flag overrides are applied on top of file and
// environment configuration.
func commonFlags(fs *flag.FlagSet) func() (*config.Config, error) {
	configPath := fs.String("config", "llt.yaml", "configuration file (optional)")
	nodeID := fs.String("node", "", "override node id")
	backend := fs.String("backend", "", "override radio backend (sx127x, rn2483, none)")
	freq := fs.Float64("freq", 0, "override frequency in MHz")
	sf := fs.Int("sf", 0, "override spreading factor")
	bw := fs.Int("bw", 0, "override bandwidth in kHz")
	power := fs.Int("power", 0, "override tx power in dBm")

	return func() (*config.Config, error) {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		if *nodeID != "" {
			cfg.Radio.NodeID = *nodeID
		}
		if *backend != "" {
			cfg.Hardware.Backend = *backend
		}
		if *freq > 0 {
			cfg.Radio.FrequencyMHz = *freq
		}
		if *sf > 0 {
			cfg.Radio.SpreadingFactor = *sf
		}
		if *bw > 0 {
			cfg.Radio.BandwidthKHz = *bw
		}
		if *power > 0 {
			cfg.Radio.TxPowerDbm = *power
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
}

// newNode builds the node with its result sink attached.
func newNode(cfg *config.Config) *node.Node {
	n := node.New(cfg)
	sink, err := results.NewLogger(cfg.Results.Dir, cfg.Results.MaxSizeMB, cfg.Results.MaxBackups)
	if err != nil {
		log.Printf("results sink disabled: %v", err)
	} else {
		n.SetResults(sink)
	}
	return n
}

// signalContext returns a context canceled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func run(cmd string, args []string) error {
	switch cmd {
	case "detect":
		return runDetect(args)
	case "status":
		return runStatus(args)
	case "ping":
		return runPing(args)
	case "pong":
		return runPong(args)
	case "send":
		return runSend(args)
	case "recv":
		return runRecv(args)
	case "spectrum":
		return runSpectrum(args)
	case "beacon":
		return runBeacon(args)
	case "echo":
		return runEcho(args)
	case "help", "-h", "--help":
		fmt.Print(usageText)
		return nil
	default:
		fmt.Fprint(os.Stderr, usageText)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runDetect(args []string) error {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	load := commonFlags(fs)
	fs.Parse(args)

	cfg, err := load()
	if err != nil {
		return err
	}
	n := node.New(cfg)

	res, err := n.Detect()
	if err != nil {
		return err
	}
	fmt.Printf("found %s on %s (reset=%s dio0=%s, version 0x%02x)\n",
		res.Model, res.Probe.SPIDevice, res.Probe.ResetPin, res.Probe.DIO0Pin, res.Version)
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	load := commonFlags(fs)
	fs.Parse(args)

	cfg, err := load()
	if err != nil {
		return err
	}
	n := node.New(cfg)
	defer n.Close()

	st := n.ModuleStatus()
	if !st.Available {
		fmt.Printf("backend %s: unavailable\n", st.Backend)
		return nil
	}
	fmt.Printf("backend:   %s\n", st.Backend)
	if st.Firmware != "" {
		fmt.Printf("firmware:  %s\n", st.Firmware)
	}
	if st.HardwareID != "" {
		fmt.Printf("hardware:  %s\n", st.HardwareID)
	}
	fmt.Printf("frequency: %.1f MHz\n", st.FrequencyMHz)
	fmt.Printf("sf:        %d\n", st.SpreadingFactor)

	ms := n.ModeStatus()
	fmt.Printf("mode:      %s\n", ms.Active)
	return nil
}

func runPing(args []string) error {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	load := commonFlags(fs)
	target := fs.String("target", "NODE_B", "node to probe")
	count := fs.Int("count", 10, "number of probes")
	interval := fs.Duration("interval", 2*time.Second, "delay between probes")
	size := fs.Int("size", 100, "approximate probe size in bytes")
	fs.Parse(args)

	cfg, err := load()
	if err != nil {
		return err
	}
	n := newNode(cfg)
	defer n.Close()

	ctx, cancel := signalContext()
	defer cancel()

	report, err := n.Ping(ctx, *target, *count, *interval, *size)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	s := report.Stats
	fmt.Printf("\n--- %s ping statistics ---\n", *target)
	fmt.Printf("%d sent, %d received, %.1f%% loss\n", s.Sent, s.Received, s.LossPercent())
	if s.Received > 0 {
		fmt.Printf("rtt min/avg/max = %.1f/%.1f/%.1f ms\n", s.RTTMinMs, s.RTTAvgMs, s.RTTMaxMs)
		if s.RSSISamples() > 0 {
			fmt.Printf("rssi min/avg/max = %d/%.0f/%d dBm\n", s.RSSIMin, s.RSSIAvg, s.RSSIMax)
		}
	}
	fmt.Printf("configured rate %.2f kbps, est. airtime %.0f ms per probe\n",
		report.DataRateKbps, report.AirtimeMs)
	return nil
}

func runPong(args []string) error {
	fs := flag.NewFlagSet("pong", flag.ExitOnError)
	load := commonFlags(fs)
	fs.Parse(args)

	cfg, err := load()
	if err != nil {
		return err
	}
	n := newNode(cfg)
	defer n.Close()

	ctx, cancel := signalContext()
	defer cancel()

	log.Printf("answering pings as %s, ctrl-c to stop", cfg.Radio.NodeID)
	err = n.RespondToPings(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	load := commonFlags(fs)
	file := fs.String("file", "", "file to transfer (required)")
	to := fs.String("to", "NODE_B", "destination node")
	fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("-file is required")
	}
	cfg, err := load()
	if err != nil {
		return err
	}
	n := newNode(cfg)
	defer n.Close()

	ctx, cancel := signalContext()
	defer cancel()

	ok, detail := n.SendFile(ctx, *file, *to)
	fmt.Println(detail)
	if !ok {
		os.Exit(1)
	}
	return nil
}

func runRecv(args []string) error {
	fs := flag.NewFlagSet("recv", flag.ExitOnError)
	load := commonFlags(fs)
	dir := fs.String("dir", "received", "directory to save into")
	fs.Parse(args)

	cfg, err := load()
	if err != nil {
		return err
	}
	n := newNode(cfg)
	defer n.Close()

	ctx, cancel := signalContext()
	defer cancel()

	log.Printf("waiting for a transfer, ctrl-c to stop")
	res, err := n.ReceiveFile(ctx, *dir)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	fmt.Printf("saved %s (%d bytes)\n", res.Path, res.Size)
	if res.Verified {
		fmt.Println("digest verified")
	} else {
		fmt.Printf("VERIFICATION FAILED: %d chunks missing, digest %s vs announced %s\n",
			len(res.MissingChunks), res.Digest, res.AnnouncedDigest)
		os.Exit(1)
	}
	return nil
}

func runSpectrum(args []string) error {
	fs := flag.NewFlagSet("spectrum", flag.ExitOnError)
	load := commonFlags(fs)
	start := fs.Float64("start", 902.0, "sweep start in MHz")
	end := fs.Float64("end", 928.0, "sweep end in MHz")
	step := fs.Float64("step", 0.5, "sweep step in MHz")
	fs.Parse(args)

	cfg, err := load()
	if err != nil {
		return err
	}
	n := newNode(cfg)
	defer n.Close()

	ctx, cancel := signalContext()
	defer cancel()

	_, summary, err := n.ScanSpectrum(ctx, *start, *end, *step, func(s scan.Sample) {
		fmt.Printf("%7.2f MHz  %4d dBm\n", s.FreqMHz, s.RSSI)
	})
	if err != nil {
		return err
	}
	fmt.Printf("\nclearest: %.2f MHz (%d dBm)\n", summary.Clearest.FreqMHz, summary.Clearest.RSSI)
	fmt.Printf("noisiest: %.2f MHz (%d dBm)\n", summary.Noisiest.FreqMHz, summary.Noisiest.RSSI)
	return nil
}

func runBeacon(args []string) error {
	fs := flag.NewFlagSet("beacon", flag.ExitOnError)
	load := commonFlags(fs)
	interval := fs.Duration("interval", 0, "beacon period (default from config)")
	fs.Parse(args)

	cfg, err := load()
	if err != nil {
		return err
	}
	n := newNode(cfg)
	defer n.Close()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Println(n.StartBeacon(*interval))
	<-ctx.Done()
	fmt.Println(n.StopBeacon())
	return nil
}

func runEcho(args []string) error {
	fs := flag.NewFlagSet("echo", flag.ExitOnError)
	load := commonFlags(fs)
	fs.Parse(args)

	cfg, err := load()
	if err != nil {
		return err
	}
	n := newNode(cfg)
	defer n.Close()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Println(n.StartEcho())
	<-ctx.Done()
	fmt.Println(n.StopEcho())
	return nil
}
