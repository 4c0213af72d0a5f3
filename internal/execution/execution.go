package execution

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects the toolchain sequence used for a request.
type Mode string

const (
	ModeTest           Mode = "test"
	ModePlayground     Mode = "playground"
	ModeRustlingsTest  Mode = "rustlings-test"
	ModeRustlingsCheck Mode = "rustlings-check"
)

// Modes lists every supported mode in a stable order.
var Modes = []Mode{ModeTest, ModePlayground, ModeRustlingsTest, ModeRustlingsCheck}

// ErrInvalidRequest is returned for requests that can never be executed.
var ErrInvalidRequest = errors.New("invalid request")

// ParseMode accepts the canonical names plus underscore spellings
// (rustlings_check) used by some platform clients.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, s)
}

func (m Mode) String() string { return string(m) }

// Request is one decoded execution request. Build it once and treat it as
// read-only afterwards.
type Request struct {
	Mode          Mode   `json:"mode"`
	Code          string `json:"code"`
	Tests         string `json:"tests,omitempty"`
	Manifest      string `json:"cargo_toml,omitempty"`
	ExpectedTests int    `json:"n_tests,omitempty"`
}

// Validate checks the mode-independent invariants of a request.
func (r Request) Validate() error {
	if _, err := ParseMode(string(r.Mode)); err != nil {
		return err
	}
	if strings.TrimSpace(r.Code) == "" {
		return fmt.Errorf("%w: code is empty", ErrInvalidRequest)
	}
	if r.Mode == ModeTest && strings.TrimSpace(r.Tests) == "" {
		return fmt.Errorf("%w: test mode requires tests", ErrInvalidRequest)
	}
	if r.ExpectedTests < 0 {
		return fmt.Errorf("%w: expected test count must not be negative", ErrInvalidRequest)
	}
	return nil
}
