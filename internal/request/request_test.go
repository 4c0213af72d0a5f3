package request

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/crucible/internal/execution"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestDecodeTestRequest(t *testing.T) {
	req, err := Decode(Encoded{
		Mode:          "test",
		Code:          b64("pub fn f() {}"),
		Tests:         b64("#[test] fn t() {}"),
		CargoToml:     b64("[package]\nname = \"x\"\n"),
		ExpectedTests: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, execution.ModeTest, req.Mode)
	assert.Equal(t, "pub fn f() {}", req.Code)
	assert.Equal(t, "#[test] fn t() {}", req.Tests)
	assert.Equal(t, "[package]\nname = \"x\"\n", req.Manifest)
	assert.Equal(t, 3, req.ExpectedTests)
}

func TestDecodeAcceptsUnderscoreModes(t *testing.T) {
	req, err := Decode(Encoded{Mode: "rustlings_check", Code: b64("fn main() {}")})
	require.NoError(t, err)
	assert.Equal(t, execution.ModeRustlingsCheck, req.Mode)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   Encoded
		want error
	}{
		{"bad base64", Encoded{Mode: "playground", Code: "%%%"}, ErrDecode},
		{"bad utf8", Encoded{Mode: "playground", Code: base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe})}, ErrDecode},
		{"empty code", Encoded{Mode: "playground"}, execution.ErrInvalidRequest},
		{"unknown mode", Encoded{Mode: "bench", Code: b64("fn main() {}")}, execution.ErrInvalidRequest},
		{"test without tests", Encoded{Mode: "test", Code: b64("pub fn f() {}")}, execution.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEncodeDecodeAgree(t *testing.T) {
	in := execution.Request{Mode: execution.ModeTest, Code: "pub fn ü() {}", Tests: "t", ExpectedTests: 1}
	out, err := Decode(Encode(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
