package sx127x

// SX127x register addresses (LoRa page).
const (
	regFifo              = 0x00
	regOpMode            = 0x01
	regFrfMsb            = 0x06
	regFrfMid            = 0x07
	regFrfLsb            = 0x08
	regPaConfig          = 0x09
	regLna               = 0x0c
	regFifoAddrPtr       = 0x0d
	regFifoTxBaseAddr    = 0x0e
	regFifoRxBaseAddr    = 0x0f
	regFifoRxCurrentAddr = 0x10
	regIrqFlags          = 0x12
	regRxNbBytes         = 0x13
	regPktSnrValue       = 0x19
	regPktRssiValue      = 0x1a
	regRssiValue         = 0x1b
	regModemConfig1      = 0x1d
	regModemConfig2      = 0x1e
	regPreambleMsb       = 0x20
	regPreambleLsb       = 0x21
	regPayloadLength     = 0x22
	regModemConfig3      = 0x26
	regDetectionOptimize = 0x31
	regDetectionThresh   = 0x37
	regSyncWord          = 0x39
	regDioMapping1       = 0x40
	regVersion           = 0x42
)

// Operating modes (ORed with the long-range bit).
const (
	modeLongRange    = 0x80
	modeSleep        = 0x00
	modeStandby      = 0x01
	modeTx           = 0x03
	modeRxContinuous = 0x05
)

// IRQ flag masks.
const (
	irqTxDoneMask          = 0x08
	irqPayloadCrcErrorMask = 0x20
	irqRxDoneMask          = 0x40
)

const (
	// Chip version register values for the supported families.
	versionSX1276 = 0x12
	versionSX1262 = 0x22

	// RSSI offset changes at the LF/HF port boundary.
	rfMidBandThresholdMHz = 525.0
	rssiOffsetLF          = 164
	rssiOffsetHF          = 157

	crystalHz = 32000000
)
