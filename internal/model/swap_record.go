package model

import (
	"fmt"
	"strings"
)

// SwapRecord is the stored Open event of a swap. It exists only while the
// swap state is SwapOpen.
type SwapRecord struct {
	ContractAddress     string    `json:"contract_address"`
	LocalCreationHeight uint64    `json:"local_creation_height"`
	RemoteEventHeight   uint64    `json:"remote_event_height"`
	ExpireHeightDelta   uint32    `json:"expire_height_delta"`
	RandomNumberHash    Hash      `json:"random_number_hash"`
	SwapID              Hash      `json:"swap_id"`
	SenderAddress       string    `json:"sender_address"`
	SenderChain         Chain     `json:"sender_chain"`
	ReceiverIdentity    Hash      `json:"receiver_identity"`
	ReceiverChain       Chain     `json:"receiver_chain"`
	RecipientAddress    Hash      `json:"recipient_address"`
	OutAmount           uint64    `json:"out_amount"`
	EventType           EventKind `json:"event_type"`
}

// ExpiresAt is the first local height at which the swap is no longer claimable.
func (r SwapRecord) ExpiresAt() uint64 {
	return r.LocalCreationHeight + uint64(r.ExpireHeightDelta)
}

// SwapState is the lifecycle state of a swap id. The zero value is SwapInvalid.
type SwapState uint8

const (
	SwapInvalid SwapState = iota
	SwapOpen
	SwapCompleted
	SwapExpired
)

func (s SwapState) String() string {
	switch s {
	case SwapInvalid:
		return "invalid"
	case SwapOpen:
		return "open"
	case SwapCompleted:
		return "completed"
	case SwapExpired:
		return "expired"
	default:
		return fmt.Sprintf("SwapState(%d)", uint8(s))
	}
}

// Terminal reports whether the state can never change again.
func (s SwapState) Terminal() bool {
	return s == SwapCompleted || s == SwapExpired
}

// ParseSwapState is the inverse of SwapState.String.
func ParseSwapState(s string) (SwapState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "invalid", "":
		return SwapInvalid, nil
	case "open":
		return SwapOpen, nil
	case "completed":
		return SwapCompleted, nil
	case "expired":
		return SwapExpired, nil
	default:
		return 0, fmt.Errorf("invalid swap state %q", s)
	}
}

func (s SwapState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SwapState) UnmarshalText(text []byte) error {
	parsed, err := ParseSwapState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Settings holds the bridge singletons written once by the init command.
type Settings struct {
	Authority      string `json:"authority"`
	CustodyAccount string `json:"custody_account"`
}

// Validate checks both values are present.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Authority) == "" {
		return fmt.Errorf("authority is required")
	}
	if strings.TrimSpace(s.CustodyAccount) == "" {
		return fmt.Errorf("custody account is required")
	}
	return nil
}
