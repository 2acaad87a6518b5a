// Package rn2483 drives an RN2483-style LoRa module over a serial line.
//
// The module speaks a line-oriented command protocol: commands go out
// CRLF-terminated, responses come back as text lines. Raw radio access
// requires pausing the module's own LoRaWAN MAC first. Transmission is a
// two-phase exchange (immediate "ok", asynchronous "radio_tx_ok");
// reception is started with an explicit window and completes with either
// "radio_rx <hex>" or "radio_err".
package rn2483

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/lora-link/llt/internal/config"
	"github.com/lora-link/llt/internal/transport"
)

const (
	ackWindow     = 500 * time.Millisecond
	confirmWindow = time.Second
	readSlice     = 100 * time.Millisecond
)

// Modem is a line-mode transport over one serial-attached module.
type Modem struct {
	mu      sync.Mutex
	port    serial.Port
	cfg     config.RadioConfig
	freqMHz float64
	buf     []byte // carry-over bytes between line reads
}

// Open connects to the module, pauses its MAC layer so raw radio commands
// are accepted, drains stale output and programs the radio parameters.
func Open(hw config.HardwareConfig, radio config.RadioConfig) (*Modem, error) {
	port, err := serial.Open(hw.SerialDevice, &serial.Mode{BaudRate: hw.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", transport.ErrUnavailable, hw.SerialDevice, err)
	}

	m := &Modem{port: port, cfg: radio, freqMHz: radio.FrequencyMHz}

	m.drain()
	// The response to "mac pause" is the pause duration in ms; any answer
	// means the module is alive.
	if _, err := m.command("mac pause", ackWindow); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: mac pause: %v", transport.ErrUnavailable, err)
	}
	m.drain()

	if err := m.applyRadioConfig(); err != nil {
		port.Close()
		return nil, err
	}
	return m, nil
}

// applyRadioConfig issues the "radio set" commands for the configured
// modulation parameters. Each must be acknowledged with "ok".
func (m *Modem) applyRadioConfig() error {
	settings := []string{
		fmt.Sprintf("radio set freq %d", int64(m.cfg.FrequencyMHz*1e6)),
		fmt.Sprintf("radio set sf sf%d", m.cfg.SpreadingFactor),
		fmt.Sprintf("radio set bw %d", m.cfg.BandwidthKHz),
		fmt.Sprintf("radio set cr 4/%d", m.cfg.CodingRate),
		fmt.Sprintf("radio set pwr %d", clampLinePower(m.cfg.TxPowerDbm)),
		fmt.Sprintf("radio set sync %x", m.cfg.SyncWord),
	}
	for _, cmd := range settings {
		tok, err := m.command(cmd, ackWindow)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", transport.ErrUnavailable, cmd, err)
		}
		if tok.Kind != TokenOK {
			return fmt.Errorf("%w: %s rejected: %s", transport.ErrUnavailable, cmd, tok.Raw)
		}
	}
	return nil
}

// The module's PA tops out below the chipset's 20 dBm ceiling.
func clampLinePower(dbm int) int {
	if dbm > 14 {
		return 14
	}
	if dbm < -3 {
		return -3
	}
	return dbm
}

// Send hex-encodes the payload and issues a transmit command. Success
// requires the immediate "ok" and the asynchronous "radio_tx_ok" within
// the follow-up window; absence of either is failure, not a panic.
func (m *Modem) Send(payload []byte) error {
	if len(payload) > transport.MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", transport.ErrPayloadTooLarge, len(payload))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.drain()
	tok, err := m.command("radio tx "+hex.EncodeToString(payload), ackWindow)
	if err != nil {
		return err
	}
	switch tok.Kind {
	case TokenOK:
	case TokenBusy:
		return fmt.Errorf("module busy")
	default:
		return fmt.Errorf("transmit rejected: %s", tok.Raw)
	}

	// Wait for the transmit-complete token, skipping noise.
	deadline := time.Now().Add(confirmWindow)
	for time.Now().Before(deadline) {
		line, err := m.readLine(deadline)
		if err != nil {
			break
		}
		switch Classify(line).Kind {
		case TokenTxOK:
			return nil
		case TokenRadioErr:
			return fmt.Errorf("transmit failed: radio_err")
		}
	}
	return fmt.Errorf("%w: radio_tx_ok not seen", transport.ErrCommandTimeout)
}

// Receive opens a receive window of the given duration on the module and
// polls for a data or error token. Unknown lines are noise and skipped.
func (m *Modem) Receive(timeout time.Duration) (*transport.Packet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.drain()
	tok, err := m.command(fmt.Sprintf("radio rx %d", timeout.Milliseconds()), ackWindow)
	if err != nil {
		return nil, err
	}
	if tok.Kind != TokenOK {
		return nil, fmt.Errorf("receive mode rejected: %s", tok.Raw)
	}

	// The module needs a moment past its own window to report the result.
	deadline := time.Now().Add(timeout + 2*time.Second)
	for time.Now().Before(deadline) {
		line, err := m.readLine(deadline)
		if err != nil {
			break
		}
		switch t := Classify(line); t.Kind {
		case TokenRx:
			payload, err := hex.DecodeString(t.Payload)
			if err != nil {
				// Garbled hex body counts as a lost frame.
				return nil, transport.ErrTimeout
			}
			// The module reports no per-packet signal quality here.
			return &transport.Packet{Payload: payload}, nil
		case TokenRadioErr:
			return nil, transport.ErrTimeout
		}
	}
	return nil, transport.ErrTimeout
}

// Retune changes only the carrier frequency.
func (m *Modem) Retune(freqMHz float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.command(fmt.Sprintf("radio set freq %d", int64(freqMHz*1e6)), ackWindow)
	if err != nil {
		return err
	}
	if tok.Kind != TokenOK {
		return fmt.Errorf("retune rejected: %s", tok.Raw)
	}
	m.freqMHz = freqMHz
	return nil
}

// AmbientRSSI is not supported by the module firmware; the spectrum
// scanner needs the register-mode back-end.
func (m *Modem) AmbientRSSI() (int, error) {
	return 0, transport.ErrNotSupported
}

// Status queries module identity and current tuning.
func (m *Modem) Status() (*transport.ModuleStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &transport.ModuleStatus{Backend: "rn2483", Available: true}

	if line, err := m.query("sys get ver"); err == nil {
		st.Firmware = line
	}
	if line, err := m.query("sys get hweui"); err == nil {
		st.HardwareID = line
	}
	if line, err := m.query("radio get freq"); err == nil {
		if hz, err := strconv.ParseFloat(line, 64); err == nil {
			st.FrequencyMHz = hz / 1e6
		}
	}
	if line, err := m.query("radio get sf"); err == nil {
		if sf, err := strconv.Atoi(strings.TrimPrefix(line, "sf")); err == nil {
			st.SpreadingFactor = sf
		}
	}
	return st, nil
}

// Close releases the serial line.
func (m *Modem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port.Close()
}

// command writes one command line and classifies the first response line.
func (m *Modem) command(cmd string, window time.Duration) (Token, error) {
	if _, err := m.port.Write([]byte(cmd + "\r\n")); err != nil {
		return Token{}, fmt.Errorf("%w: write: %v", transport.ErrUnavailable, err)
	}
	line, err := m.readLine(time.Now().Add(window))
	if err != nil {
		return Token{}, fmt.Errorf("%w: no response to %q", transport.ErrCommandTimeout, cmd)
	}
	return Classify(line), nil
}

// query runs a "get" command and returns the raw response line.
func (m *Modem) query(cmd string) (string, error) {
	if _, err := m.port.Write([]byte(cmd + "\r\n")); err != nil {
		return "", err
	}
	return m.readLine(time.Now().Add(ackWindow))
}

// readLine accumulates bytes until a newline or the deadline. Reads are
// sliced so the deadline is honored even while the port stays silent.
func (m *Modem) readLine(deadline time.Time) (string, error) {
	for {
		if i := indexNewline(m.buf); i >= 0 {
			line := strings.TrimRight(string(m.buf[:i]), "\r")
			m.buf = m.buf[i+1:]
			if line == "" {
				continue
			}
			return line, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", transport.ErrCommandTimeout
		}
		if remaining > readSlice {
			remaining = readSlice
		}
		m.port.SetReadTimeout(remaining)
		chunk := make([]byte, 256)
		n, err := m.port.Read(chunk)
		if err != nil {
			return "", err
		}
		m.buf = append(m.buf, chunk[:n]...)
	}
}

func indexNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return -1
}

// drain discards whatever the module buffered since the last exchange.
func (m *Modem) drain() {
	m.port.ResetInputBuffer()
	m.buf = m.buf[:0]
}
