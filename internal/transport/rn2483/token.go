package rn2483

import "strings"

// TokenKind identifies one of the module's known response lines. The set
// is closed: anything unrecognized is TokenNoise and gets skipped, never
// an error surfaced to the caller.
type TokenKind int

const (
	// TokenNoise is any line outside the known response set, including
	// stale buffered output and firmware chatter.
	TokenNoise TokenKind = iota

	// TokenOK is the immediate acknowledgement of an accepted command.
	TokenOK

	// TokenInvalidParam rejects a malformed command.
	TokenInvalidParam

	// TokenBusy rejects a command while the transceiver is occupied.
	TokenBusy

	// TokenTxOK is the asynchronous transmit-complete notification.
	TokenTxOK

	// TokenRx is an asynchronous received frame; Payload carries the hex
	// body following the prefix.
	TokenRx

	// TokenRadioErr signals a receive window timeout or radio error.
	TokenRadioErr
)

// Token is one classified response line.
type Token struct {
	Kind    TokenKind
	Payload string // hex body for TokenRx, empty otherwise
	Raw     string
}

// Classify maps a response line onto the module's known token set.
func Classify(line string) Token {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "ok":
		return Token{Kind: TokenOK, Raw: trimmed}
	case trimmed == "invalid_param":
		return Token{Kind: TokenInvalidParam, Raw: trimmed}
	case trimmed == "busy":
		return Token{Kind: TokenBusy, Raw: trimmed}
	case trimmed == "radio_tx_ok":
		return Token{Kind: TokenTxOK, Raw: trimmed}
	case trimmed == "radio_err":
		return Token{Kind: TokenRadioErr, Raw: trimmed}
	case strings.HasPrefix(trimmed, "radio_rx"):
		fields := strings.Fields(trimmed)
		if len(fields) >= 2 {
			return Token{Kind: TokenRx, Payload: fields[1], Raw: trimmed}
		}
		return Token{Kind: TokenNoise, Raw: trimmed}
	}
	return Token{Kind: TokenNoise, Raw: trimmed}
}
