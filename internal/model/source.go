package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSourceKind is returned for unknown source kind names.
var ErrInvalidSourceKind = errors.New("invalid source kind")

// SourceKind selects the HTTP method and the JSON dialect of a fetch job.
type SourceKind uint8

const (
	// SourceExplorer is a block explorer API queried with GET.
	SourceExplorer SourceKind = iota + 1
	// SourceProvider is a JSON-RPC node queried with POST.
	SourceProvider
)

// ParseSourceKind accepts "explorer"/"etherscan" and "provider"/"infura".
func ParseSourceKind(s string) (SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "explorer", "etherscan":
		return SourceExplorer, nil
	case "provider", "infura":
		return SourceProvider, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSourceKind, s)
	}
}

func (k SourceKind) String() string {
	switch k {
	case SourceExplorer:
		return "explorer"
	case SourceProvider:
		return "provider"
	default:
		return fmt.Sprintf("SourceKind(%d)", uint8(k))
	}
}

func (k SourceKind) Valid() bool {
	return k == SourceExplorer || k == SourceProvider
}

func (k SourceKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSourceKind, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *SourceKind) UnmarshalText(text []byte) error {
	parsed, err := ParseSourceKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// FetchJob is the single queued request of the event fetcher.
type FetchJob struct {
	Kind    SourceKind        `json:"kind"`
	URL     string            `json:"url"`
	Body    []byte            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Validate checks the job is executable.
func (j FetchJob) Validate() error {
	if !j.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidSourceKind, uint8(j.Kind))
	}
	if strings.TrimSpace(j.URL) == "" {
		return errors.New("fetch job url is required")
	}
	return nil
}
