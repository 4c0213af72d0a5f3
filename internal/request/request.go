// Package request decodes the base64 transport encoding used by the CLI and
// HTTP surfaces into execution requests.
package request

import (
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/michaelbrown/crucible/internal/execution"
)

// ErrDecode is wrapped by every decoding failure.
var ErrDecode = errors.New("decoding request")

// Encoded is a request whose text fields are standard base64.
type Encoded struct {
	Mode          string `json:"mode"`
	Code          string `json:"code"`
	Tests         string `json:"tests,omitempty"`
	CargoToml     string `json:"cargo_toml,omitempty"`
	ExpectedTests int    `json:"n_tests,omitempty"`
}

// Decode validates and decodes e.
func Decode(e Encoded) (execution.Request, error) {
	m, err := execution.ParseMode(e.Mode)
	if err != nil {
		return execution.Request{}, err
	}
	code, err := Field("code", e.Code)
	if err != nil {
		return execution.Request{}, err
	}
	tests, err := Field("tests", e.Tests)
	if err != nil {
		return execution.Request{}, err
	}
	manifest, err := Field("cargo_toml", e.CargoToml)
	if err != nil {
		return execution.Request{}, err
	}

	req := execution.Request{
		Mode:          m,
		Code:          code,
		Tests:         tests,
		Manifest:      manifest,
		ExpectedTests: e.ExpectedTests,
	}
	return req, req.Validate()
}

// Field decodes one base64 field and checks it is UTF-8. An empty value
// decodes to the empty string.
func Field(name, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("%w: %s is not valid base64: %v", ErrDecode, name, err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrDecode, name)
	}
	return string(raw), nil
}

// Encode is the inverse of Decode, used by clients and tests.
func Encode(req execution.Request) Encoded {
	enc := func(s string) string {
		if s == "" {
			return ""
		}
		return base64.StdEncoding.EncodeToString([]byte(s))
	}
	return Encoded{
		Mode:          req.Mode.String(),
		Code:          enc(req.Code),
		Tests:         enc(req.Tests),
		CargoToml:     enc(req.Manifest),
		ExpectedTests: req.ExpectedTests,
	}
}
