package transport

import (
	"errors"
	"time"
)

// MaxFrameSize is the largest payload a single LoRa frame can carry.
const MaxFrameSize = 255

// Normalized transport errors. Drivers map hardware-specific failures onto
// these so higher layers can test with errors.Is.
var (
	// ErrUnavailable indicates no hardware or module was detected. It is
	// non-fatal: callers degrade to a clearly flagged "unavailable" result.
	ErrUnavailable = errors.New("transport unavailable")

	// ErrTimeout indicates the receive window elapsed with no frame. It is
	// the normal outcome of a bounded listen, not a hardware fault.
	ErrTimeout = errors.New("receive timeout")

	// ErrCommandTimeout indicates an expected module acknowledgement or
	// completion token was not seen within its deadline.
	ErrCommandTimeout = errors.New("command response timeout")

	// ErrPayloadTooLarge indicates the payload exceeds MaxFrameSize.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum frame size")

	// ErrNotSupported indicates the active back-end cannot perform the
	// operation (e.g. ambient RSSI sampling on the AT-command module).
	ErrNotSupported = errors.New("operation not supported by this backend")
)

// Packet is one received frame with its signal quality readings.
type Packet struct {
	Payload []byte
	RSSI    int     // dBm
	SNR     float64 // dB
	// HasSignal reports whether RSSI/SNR carry real readings. Line-mode
	// modules may deliver data without per-packet signal quality.
	HasSignal bool
}

// ModuleStatus is the identity report of the attached radio.
type ModuleStatus struct {
	Backend         string
	Firmware        string
	HardwareID      string
	FrequencyMHz    float64
	SpreadingFactor int
	Available       bool
}

// Transport is the capability contract of one physical radio.
type Transport interface {
	// Send transmits a single frame. It returns nil only when the hardware
	// reported successful transmission within its deadline.
	Send(payload []byte) error

	// Receive blocks up to timeout for one frame. It returns ErrTimeout
	// when the window elapses with no data; that is not a hardware fault.
	Receive(timeout time.Duration) (*Packet, error)

	// Retune changes only the carrier frequency, for spectrum sweeps.
	Retune(freqMHz float64) error

	// AmbientRSSI samples the instantaneous channel energy in dBm without
	// demodulating. Back-ends without a wideband RSSI readout return
	// ErrNotSupported.
	AmbientRSSI() (int, error)

	// Status reports module identity and current tuning.
	Status() (*ModuleStatus, error)

	Close() error
}
