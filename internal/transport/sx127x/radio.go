// Package sx127x drives a Semtech SX127x LoRa chipset over SPI and GPIO.
//
// The driver configures modulation parameters through direct register
// writes, transmits and receives via mode-register transitions and polls
// the interrupt-flag register for completion.
package sx127x

import (
	"errors"
	"fmt"
	"sync"
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

const (
	txPollInterval = time.Millisecond
	rxPollInterval = 10 * time.Millisecond
)

var errVersionMismatch = errors.New("unexpected chip version")

// Radio is a register-mode transport over one SX127x chipset.
type Radio struct {
	mu    sync.Mutex
	conn  spi.Conn
	port  spi.PortCloser
	reset gpio.PinIO
	dio0  gpio.PinIO

	cfg     config.RadioConfig
	freqMHz float64 // current tuning, may diverge from cfg during sweeps
	version byte
}

// Open initializes the SPI session and GPIO pins, resets the chip, checks
// the version register and programs the modulation parameters.
func Open(hw config.HardwareConfig, radio config.RadioConfig) (*Radio, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: host init: %v", transport.ErrUnavailable, err)
	}

	port, err := spireg.Open(hw.SPIDevice)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", transport.ErrUnavailable, hw.SPIDevice, err)
	}

	conn, err := port.Connect(8*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: spi connect: %v", transport.ErrUnavailable, err)
	}

	reset := gpioreg.ByName(hw.ResetPin)
	if reset == nil {
		port.Close()
		return nil, fmt.Errorf("%w: reset pin %s not found", transport.ErrUnavailable, hw.ResetPin)
	}
	dio0 := gpioreg.ByName(hw.DIO0Pin)
	if dio0 == nil {
		port.Close()
		return nil, fmt.Errorf("%w: dio0 pin %s not found", transport.ErrUnavailable, hw.DIO0Pin)
	}
	if err := dio0.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: dio0 setup: %v", transport.ErrUnavailable, err)
	}

	r := &Radio{
		conn:    conn,
		port:    port,
		reset:   reset,
		dio0:    dio0,
		cfg:     radio,
		freqMHz: radio.FrequencyMHz,
	}

	if err := r.hardwareReset(); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: reset: %v", transport.ErrUnavailable, err)
	}

	v, err := r.readRegister(regVersion)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: version read: %v", transport.ErrUnavailable, err)
	}
	if v != versionSX1276 && v != versionSX1262 {
		port.Close()
		return nil, fmt.Errorf("%w: %v: got 0x%02x", transport.ErrUnavailable, errVersionMismatch, v)
	}
	r.version = v

	if err := r.configure(); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: configure: %v", transport.ErrUnavailable, err)
	}
	return r, nil
}

func (r *Radio) hardwareReset() error {
	if err := r.reset.Out(gpio.Low); err != nil {
		return err
	}
	time.Sleep(10 * time.Millisecond)
	if err := r.reset.Out(gpio.High); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return nil
}

// configure programs frequency, power amplifier, spreading factor,
// bandwidth, coding rate, preamble, sync word and receiver settings, then
// leaves the chip in standby.
func (r *Radio) configure() error {
	if err := r.setMode(modeSleep); err != nil {
		return err
	}
	if err := r.setFrequency(r.cfg.FrequencyMHz); err != nil {
		return err
	}

	// PA_BOOST with the configured output power.
	pa := byte(0x80 | 0x70 | byte((r.cfg.TxPowerDbm-2)&0x0f))
	if err := r.writeRegister(regPaConfig, pa); err != nil {
		return err
	}

	if err := r.setSpreadingFactor(r.cfg.SpreadingFactor); err != nil {
		return err
	}
	if err := r.setBandwidth(r.cfg.BandwidthKHz); err != nil {
		return err
	}
	if err := r.setCodingRate(r.cfg.CodingRate); err != nil {
		return err
	}

	// Preamble length 8.
	if err := r.writeRegister(regPreambleMsb, 0x00); err != nil {
		return err
	}
	if err := r.writeRegister(regPreambleLsb, 0x08); err != nil {
		return err
	}
	if err := r.writeRegister(regSyncWord, r.cfg.SyncWord); err != nil {
		return err
	}

	// CRC on.
	mc2, err := r.readRegister(regModemConfig2)
	if err != nil {
		return err
	}
	if err := r.writeRegister(regModemConfig2, mc2|0x04); err != nil {
		return err
	}

	// LNA boost and automatic gain control.
	lna, err := r.readRegister(regLna)
	if err != nil {
		return err
	}
	if err := r.writeRegister(regLna, lna|0x03); err != nil {
		return err
	}
	if err := r.writeRegister(regModemConfig3, 0x04); err != nil {
		return err
	}

	// Whole FIFO for either direction.
	if err := r.writeRegister(regFifoTxBaseAddr, 0x00); err != nil {
		return err
	}
	if err := r.writeRegister(regFifoRxBaseAddr, 0x00); err != nil {
		return err
	}

	return r.setMode(modeStandby)
}

// Send writes the payload to the FIFO, switches to transmit mode and polls
// the IRQ-flag register for TxDone within the fixed transmit deadline.
func (r *Radio) Send(payload []byte) error {
	if len(payload) > transport.MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", transport.ErrPayloadTooLarge, len(payload))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.setMode(modeStandby); err != nil {
		return err
	}
	if err := r.clearIrqFlags(); err != nil {
		return err
	}
	if err := r.writeRegister(regFifoAddrPtr, 0x00); err != nil {
		return err
	}
	if err := r.writeRegister(regPayloadLength, byte(len(payload))); err != nil {
		return err
	}
	if err := r.writeRegister(regFifo, payload...); err != nil {
		return err
	}
	if err := r.setMode(modeTx); err != nil {
		return err
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		flags, err := r.readRegister(regIrqFlags)
		if err != nil {
			return err
		}
		if flags&irqTxDoneMask != 0 {
			return r.writeRegister(regIrqFlags, irqTxDoneMask)
		}
		time.Sleep(txPollInterval)
	}
	return fmt.Errorf("%w: tx done not signalled", transport.ErrCommandTimeout)
}

// Receive switches to continuous receive and polls RxDone up to timeout.
// Frames failing the hardware CRC are dropped and listening continues.
func (r *Radio) Receive(timeout time.Duration) (*transport.Packet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.clearIrqFlags(); err != nil {
		return nil, err
	}
	if err := r.setMode(modeRxContinuous); err != nil {
		return nil, err
	}
	defer r.setMode(modeStandby)

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		flags, err := r.readRegister(regIrqFlags)
		if err != nil {
			return nil, err
		}
		if flags&irqRxDoneMask == 0 {
			time.Sleep(rxPollInterval)
			continue
		}
		if err := r.writeRegister(regIrqFlags, flags); err != nil {
			return nil, err
		}
		if flags&irqPayloadCrcErrorMask != 0 {
			// Corrupt frame, keep listening for the rest of the window.
			continue
		}

		payload, err := r.readFifo()
		if err != nil {
			return nil, err
		}
		rssi, err := r.packetRSSI()
		if err != nil {
			return nil, err
		}
		snr, err := r.packetSNR()
		if err != nil {
			return nil, err
		}
		return &transport.Packet{Payload: payload, RSSI: rssi, SNR: snr, HasSignal: true}, nil
	}
	return nil, transport.ErrTimeout
}

// Retune changes only the carrier frequency, leaving modulation untouched.
func (r *Radio) Retune(freqMHz float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.setMode(modeStandby); err != nil {
		return err
	}
	if err := r.setFrequency(freqMHz); err != nil {
		return err
	}
	r.freqMHz = freqMHz
	return nil
}

// AmbientRSSI samples the instantaneous (non-packet) RSSI register while
// the receiver is running.
func (r *Radio) AmbientRSSI() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.setMode(modeRxContinuous); err != nil {
		return 0, err
	}
	raw, err := r.readRegister(regRssiValue)
	if err != nil {
		return 0, err
	}
	return int(raw) - r.rssiOffset(), nil
}

// Status reports chip identity and the current tuning.
func (r *Radio) Status() (*transport.ModuleStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return &transport.ModuleStatus{
		Backend:         "sx127x",
		Firmware:        fmt.Sprintf("silicon rev 0x%02x", r.version),
		HardwareID:      r.model(),
		FrequencyMHz:    r.freqMHz,
		SpreadingFactor: r.cfg.SpreadingFactor,
		Available:       true,
	}, nil
}

// Close puts the chip to sleep and releases the SPI session.
func (r *Radio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.setMode(modeSleep)
	return r.port.Close()
}

func (r *Radio) model() string {
	switch r.version {
	case versionSX1276:
		return "SX1276/77/78/79"
	case versionSX1262:
		return "SX1262"
	}
	return fmt.Sprintf("unknown (0x%02x)", r.version)
}

func (r *Radio) setMode(mode byte) error {
	return r.writeRegister(regOpMode, modeLongRange|mode)
}

func (r *Radio) setFrequency(freqMHz float64) error {
	frf := uint64(freqMHz*1e6) << 19 / crystalHz
	if err := r.writeRegister(regFrfMsb, byte(frf>>16)); err != nil {
		return err
	}
	if err := r.writeRegister(regFrfMid, byte(frf>>8)); err != nil {
		return err
	}
	return r.writeRegister(regFrfLsb, byte(frf))
}

func (r *Radio) setSpreadingFactor(sf int) error {
	// SF6 needs different detection settings; the valid config range is
	// 7-12 so the standard values apply.
	if err := r.writeRegister(regDetectionOptimize, 0xc3); err != nil {
		return err
	}
	if err := r.writeRegister(regDetectionThresh, 0x0a); err != nil {
		return err
	}
	mc2, err := r.readRegister(regModemConfig2)
	if err != nil {
		return err
	}
	return r.writeRegister(regModemConfig2, (mc2&0x0f)|byte(sf)<<4)
}

func (r *Radio) setBandwidth(khz int) error {
	var bw byte
	switch khz {
	case 125:
		bw = 7
	case 250:
		bw = 8
	default: // 500
		bw = 9
	}
	mc1, err := r.readRegister(regModemConfig1)
	if err != nil {
		return err
	}
	return r.writeRegister(regModemConfig1, (mc1&0x0f)|bw<<4)
}

func (r *Radio) setCodingRate(denominator int) error {
	mc1, err := r.readRegister(regModemConfig1)
	if err != nil {
		return err
	}
	cr := byte(denominator - 4)
	return r.writeRegister(regModemConfig1, (mc1&0xf1)|cr<<1)
}

func (r *Radio) clearIrqFlags() error {
	flags, err := r.readRegister(regIrqFlags)
	if err != nil {
		return err
	}
	return r.writeRegister(regIrqFlags, flags)
}

func (r *Radio) readFifo() ([]byte, error) {
	n, err := r.readRegister(regRxNbBytes)
	if err != nil {
		return nil, err
	}
	addr, err := r.readRegister(regFifoRxCurrentAddr)
	if err != nil {
		return nil, err
	}
	if err := r.writeRegister(regFifoAddrPtr, addr); err != nil {
		return nil, err
	}
	return r.readRegisterBurst(regFifo, int(n))
}

func (r *Radio) packetRSSI() (int, error) {
	raw, err := r.readRegister(regPktRssiValue)
	if err != nil {
		return 0, err
	}
	return int(raw) - r.rssiOffset(), nil
}

func (r *Radio) packetSNR() (float64, error) {
	raw, err := r.readRegister(regPktSnrValue)
	if err != nil {
		return 0, err
	}
	return float64(int8(raw)) * 0.25, nil
}

func (r *Radio) rssiOffset() int {
	if r.freqMHz < rfMidBandThresholdMHz {
		return rssiOffsetLF
	}
	return rssiOffsetHF
}

// readRegister reads one register over SPI. Bit 7 clear selects read.
func (r *Radio) readRegister(reg byte) (byte, error) {
	w := []byte{reg & 0x7f, 0x00}
	read := make([]byte, len(w))
	if err := r.conn.Tx(w, read); err != nil {
		return 0, err
	}
	return read[1], nil
}

func (r *Radio) readRegisterBurst(reg byte, n int) ([]byte, error) {
	w := append([]byte{reg & 0x7f}, make([]byte, n)...)
	read := make([]byte, len(w))
	if err := r.conn.Tx(w, read); err != nil {
		return nil, err
	}
	return read[1:], nil
}

// writeRegister writes one or more bytes starting at reg. Bit 7 set
// selects write.
func (r *Radio) writeRegister(reg byte, values ...byte) error {
	w := append([]byte{reg | 0x80}, values...)
	return r.conn.Tx(w, make([]byte, len(w)))
}
