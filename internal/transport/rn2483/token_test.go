package rn2483

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		line    string
		kind    TokenKind
		payload string
	}{
		{"ok", TokenOK, ""},
		{"ok\r\n", TokenOK, ""},
		{"  ok  ", TokenOK, ""},
		{"invalid_param", TokenInvalidParam, ""},
		{"busy", TokenBusy, ""},
		{"radio_tx_ok", TokenTxOK, ""},
		{"radio_err", TokenRadioErr, ""},
		{"radio_rx 48656c6c6f", TokenRx, "48656c6c6f"},
		{"radio_rx  48", TokenRx, "48"},
		{"radio_rx", TokenNoise, ""},
		{"RN2483 1.0.5 Oct 31 2018 15:06:52", TokenNoise, ""},
		{"", TokenNoise, ""},
		{"okay", TokenNoise, ""},
	}

	for _, tc := range cases {
		tok := Classify(tc.line)
		if tok.Kind != tc.kind {
			t.Errorf("Classify(%q).Kind = %v, want %v", tc.line, tok.Kind, tc.kind)
		}
		if tok.Payload != tc.payload {
			t.Errorf("Classify(%q).Payload = %q, want %q", tc.line, tok.Payload, tc.payload)
		}
	}
}
