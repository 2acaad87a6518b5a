package sx127x

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/lora-link/llt/internal/config"
	"github.com/lora-link/llt/internal/transport"
)

// PinProbe is one wiring candidate tried during module detection.
type PinProbe struct {
	SPIDevice string
	ResetPin  string
	DIO0Pin   string
}

// DetectResult reports a found chipset and the wiring it answered on.
type DetectResult struct {
	Model   string
	Version byte
	Probe   PinProbe
}

// Common wiring layouts for SX127x breakout boards on a Pi header.
var defaultProbes = []PinProbe{
	{SPIDevice: "/dev/spidev0.0", ResetPin: "GPIO22", DIO0Pin: "GPIO24"},
	{SPIDevice: "/dev/spidev0.1", ResetPin: "GPIO17", DIO0Pin: "GPIO4"},
}

// Detect probes the configured wiring first, then the common layouts,
// reading the version register over SPI to identify the chipset.
func Detect(hw config.HardwareConfig) (*DetectResult, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: host init: %v", transport.ErrUnavailable, err)
	}

	probes := append([]PinProbe{{
		SPIDevice: hw.SPIDevice,
		ResetPin:  hw.ResetPin,
		DIO0Pin:   hw.DIO0Pin,
	}}, defaultProbes...)

	var lastErr error
	for _, p := range probes {
		res, err := probeOne(p)
		if err != nil {
			lastErr = err
			continue
		}
		return res, nil
	}
	return nil, fmt.Errorf("%w: no chipset answered: %v", transport.ErrUnavailable, lastErr)
}

func probeOne(p PinProbe) (*DetectResult, error) {
	port, err := spireg.Open(p.SPIDevice)
	if err != nil {
		return nil, err
	}
	defer port.Close()

	conn, err := port.Connect(5*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, err
	}

	if reset := gpioreg.ByName(p.ResetPin); reset != nil {
		reset.Out(gpio.Low)
		time.Sleep(10 * time.Millisecond)
		reset.Out(gpio.High)
		time.Sleep(100 * time.Millisecond)
	}

	w := []byte{regVersion & 0x7f, 0x00}
	read := make([]byte, len(w))
	if err := conn.Tx(w, read); err != nil {
		return nil, err
	}

	switch v := read[1]; v {
	case versionSX1276:
		return &DetectResult{Model: "SX1276/77/78/79", Version: v, Probe: p}, nil
	case versionSX1262:
		return &DetectResult{Model: "SX1262", Version: v, Probe: p}, nil
	default:
		return nil, fmt.Errorf("unknown version 0x%02x on %s", v, p.SPIDevice)
	}
}
