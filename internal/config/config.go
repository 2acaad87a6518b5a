package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/lora-link/llt/internal/frame"
)

// Config is the complete configuration for one node of the link tester.
type Config struct {
	Radio    RadioConfig    `yaml:"radio"`
	Hardware HardwareConfig `yaml:"hardware"`
	Link     LinkConfig     `yaml:"link"`
	Timing   TimingConfig   `yaml:"timing"`
	Results  ResultsConfig  `yaml:"results"`
}

// RadioConfig holds the LoRa modulation parameters and the node identity.
// Immutable after a transport is opened with it.
type RadioConfig struct {
	FrequencyMHz    float64 `yaml:"frequencyMhz"`    // carrier frequency
	SpreadingFactor int     `yaml:"spreadingFactor"` // 7..12
	BandwidthKHz    int     `yaml:"bandwidthKhz"`    // 125, 250 or 500
	CodingRate      int     `yaml:"codingRate"`      // denominator of 4/x, 5..8
	TxPowerDbm      int     `yaml:"txPowerDbm"`      // 2..20
	SyncWord        byte    `yaml:"syncWord"`        // private network sync word
	NodeID          string  `yaml:"nodeId"`
}

// HardwareConfig selects and addresses the radio back-end.
type HardwareConfig struct {
	// Backend is "sx127x" (register-level SPI chipset), "rn2483"
	// (AT-command module on a serial line) or "none".
	Backend string `yaml:"backend"`

	// Register-mode settings.
	SPIDevice string `yaml:"spiDevice"`
	ResetPin  string `yaml:"resetPin"`
	DIO0Pin   string `yaml:"dio0Pin"`

	// Line-mode settings.
	SerialDevice string `yaml:"serialDevice"`
	BaudRate     int    `yaml:"baudRate"`
}

// LinkConfig holds parameters of the measurement protocols.
type LinkConfig struct {
	ChunkSize  int `yaml:"chunkSize"`  // file transfer chunk payload bytes
	WindowSize int `yaml:"windowSize"` // chunks between pacing delays
}

// TimingConfig collects every protocol deadline and backoff in one place.
type TimingConfig struct {
	TxDeadline       time.Duration `yaml:"txDeadline"`       // transmit-done wait
	ReplyDeadline    time.Duration `yaml:"replyDeadline"`    // ping reply wait
	AckDeadline      time.Duration `yaml:"ackDeadline"`      // file info ack wait
	PollWindow       time.Duration `yaml:"pollWindow"`       // responder receive window
	EchoListenWindow time.Duration `yaml:"echoListenWindow"` // echo loop receive window
	EchoReplyPause   time.Duration `yaml:"echoReplyPause"`   // pause before echoing back
	BeaconInterval   time.Duration `yaml:"beaconInterval"`   // default beacon period
	UnavailableRetry time.Duration `yaml:"unavailableRetry"` // backoff when no hardware
	ModeGracePeriod  time.Duration `yaml:"modeGracePeriod"`  // wait after stopping a mode
	ChunkPace        time.Duration `yaml:"chunkPace"`        // delay every WindowSize chunks
	ScanSettle       time.Duration `yaml:"scanSettle"`       // retune settle before sampling
}

// ResultsConfig holds settings for the persistent result sink.
type ResultsConfig struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
}

// Default returns the baseline configuration for the US915 band.
func Default() *Config {
	return &Config{
		Radio: RadioConfig{
			FrequencyMHz:    915.0,
			SpreadingFactor: 7,
			BandwidthKHz:    125,
			CodingRate:      5,
			TxPowerDbm:      20,
			SyncWord:        0x12,
			NodeID:          "NODE_A",
		},
		Hardware: HardwareConfig{
			Backend:      "sx127x",
			SPIDevice:    "/dev/spidev0.0",
			ResetPin:     "GPIO22",
			DIO0Pin:      "GPIO24",
			SerialDevice: "/dev/ttyACM0",
			BaudRate:     57600,
		},
		Link: LinkConfig{
			ChunkSize:  frame.MaxChunkSize,
			WindowSize: 5,
		},
		Timing: TimingConfig{
			TxDeadline:       5 * time.Second,
			ReplyDeadline:    2 * time.Second,
			AckDeadline:      5 * time.Second,
			PollWindow:       10 * time.Second,
			EchoListenWindow: 30 * time.Second,
			EchoReplyPause:   500 * time.Millisecond,
			BeaconInterval:   5 * time.Second,
			UnavailableRetry: 5 * time.Second,
			ModeGracePeriod:  1 * time.Second,
			ChunkPace:        100 * time.Millisecond,
			ScanSettle:       50 * time.Millisecond,
		},
		Results: ResultsConfig{
			Dir:        "results",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

// Load resolves the configuration: defaults, then the YAML file at path if
// it exists, then LLT_* environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies LLT_* environment variables to the config.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("LLT_NODE_ID"); val != "" {
		cfg.Radio.NodeID = val
	}
	if val := os.Getenv("LLT_FREQUENCY_MHZ"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Radio.FrequencyMHz = f
		}
	}
	if val := os.Getenv("LLT_SPREADING_FACTOR"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Radio.SpreadingFactor = n
		}
	}
	if val := os.Getenv("LLT_BANDWIDTH_KHZ"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Radio.BandwidthKHz = n
		}
	}
	if val := os.Getenv("LLT_TX_POWER_DBM"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Radio.TxPowerDbm = n
		}
	}
	if val := os.Getenv("LLT_BACKEND"); val != "" {
		cfg.Hardware.Backend = val
	}
	if val := os.Getenv("LLT_SPI_DEVICE"); val != "" {
		cfg.Hardware.SPIDevice = val
	}
	if val := os.Getenv("LLT_SERIAL_DEVICE"); val != "" {
		cfg.Hardware.SerialDevice = val
	}
	if val := os.Getenv("LLT_RESULTS_DIR"); val != "" {
		cfg.Results.Dir = val
	}
}

// Validate checks every field against its allowed range.
func (c *Config) Validate() error {
	r := c.Radio
	if r.FrequencyMHz <= 0 {
		return fmt.Errorf("frequency must be positive, got %.1f", r.FrequencyMHz)
	}
	if r.SpreadingFactor < 7 || r.SpreadingFactor > 12 {
		return fmt.Errorf("spreading factor must be 7-12, got %d", r.SpreadingFactor)
	}
	switch r.BandwidthKHz {
	case 125, 250, 500:
	default:
		return fmt.Errorf("bandwidth must be 125, 250 or 500 kHz, got %d", r.BandwidthKHz)
	}
	if r.CodingRate < 5 || r.CodingRate > 8 {
		return fmt.Errorf("coding rate denominator must be 5-8, got %d", r.CodingRate)
	}
	if r.TxPowerDbm < 2 || r.TxPowerDbm > 20 {
		return fmt.Errorf("tx power must be 2-20 dBm, got %d", r.TxPowerDbm)
	}
	if r.NodeID == "" {
		return fmt.Errorf("node id must not be empty")
	}

	switch c.Hardware.Backend {
	case "sx127x", "rn2483", "none":
	default:
		return fmt.Errorf("unknown backend %q", c.Hardware.Backend)
	}

	if c.Link.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Link.ChunkSize)
	}
	if c.Link.ChunkSize > frame.MaxChunkSize {
		return fmt.Errorf("chunk size must not exceed %d so encoded chunks fit one frame, got %d",
			frame.MaxChunkSize, c.Link.ChunkSize)
	}
	if c.Link.WindowSize <= 0 {
		return fmt.Errorf("window size must be positive, got %d", c.Link.WindowSize)
	}
	return nil
}

// DataRateKbps returns the theoretical LoRa data rate for the configured
// modulation parameters.
func (r RadioConfig) DataRateKbps() float64 {
	return float64(r.SpreadingFactor) * (float64(r.BandwidthKHz) / float64(uint(1)<<uint(r.SpreadingFactor))) * 1.25
}

// AirtimeMs returns the approximate time on air in milliseconds for a
// payload of the given size.
func (r RadioConfig) AirtimeMs(payloadSize int) float64 {
	symbols := 8*payloadSize - 4*r.SpreadingFactor + 28
	if symbols < 0 {
		symbols = 0
	}
	symbols += 8
	return float64(symbols) * float64(uint(1)<<uint(r.SpreadingFactor)) / float64(r.BandwidthKHz)
}
