package model

import (
	"fmt"
	"strings"
)

// EventKind is the lifecycle event emitted by the remote bridge contract.
type EventKind uint8

const (
	EventOpen EventKind = iota + 1
	EventClaimed
	EventRefunded
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventClaimed:
		return "claimed"
	case EventRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// ParseEventKind is the inverse of EventKind.String.
func ParseEventKind(s string) (EventKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open":
		return EventOpen, nil
	case "claimed", "claim":
		return EventClaimed, nil
	case "refunded", "refund":
		return EventRefunded, nil
	default:
		return 0, fmt.Errorf("invalid event kind %q", s)
	}
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(text []byte) error {
	parsed, err := ParseEventKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Chain tags the ledger an address or identity lives on.
type Chain uint8

const (
	ChainETHMain Chain = iota + 1
	ChainPRA
)

func (c Chain) String() string {
	switch c {
	case ChainETHMain:
		return "eth_main"
	case ChainPRA:
		return "pra"
	default:
		return fmt.Sprintf("Chain(%d)", uint8(c))
	}
}

// ParseChain is the inverse of Chain.String.
func ParseChain(s string) (Chain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eth_main", "ethmain":
		return ChainETHMain, nil
	case "pra":
		return ChainPRA, nil
	default:
		return 0, fmt.Errorf("invalid chain %q", s)
	}
}

func (c Chain) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Chain) UnmarshalText(text []byte) error {
	parsed, err := ParseChain(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// SwapEvent is a decoded bridge event. RandomNumberHash is set for Open and
// Refunded, RandomNumber for Claimed. OutAmount is only carried by Open and is
// already converted to local precision.
type SwapEvent struct {
	Kind              EventKind `json:"kind"`
	ContractAddress   string    `json:"contract_address"`
	RemoteEventHeight uint64    `json:"remote_event_height"`
	ExpireHeightDelta uint32    `json:"expire_height_delta"`
	RandomNumberHash  Hash      `json:"random_number_hash"`
	RandomNumber      Hash      `json:"random_number"`
	SwapID            Hash      `json:"swap_id"`
	SenderAddress     string    `json:"sender_address"`
	SenderChain       Chain     `json:"sender_chain"`
	ReceiverIdentity  Hash      `json:"receiver_identity"`
	ReceiverChain     Chain     `json:"receiver_chain"`
	RecipientAddress  Hash      `json:"recipient_address"`
	OutAmount         uint64    `json:"out_amount"`
	TxHash            string    `json:"tx_hash"`
	TxIndex           uint64    `json:"tx_index"`
	Timestamp         uint64    `json:"timestamp"`
}

// Record builds the registry entry for an Open event observed at localHeight.
func (e SwapEvent) Record(localHeight uint64) SwapRecord {
	return SwapRecord{
		ContractAddress:     e.ContractAddress,
		LocalCreationHeight: localHeight,
		RemoteEventHeight:   e.RemoteEventHeight,
		ExpireHeightDelta:   e.ExpireHeightDelta,
		RandomNumberHash:    e.RandomNumberHash,
		SwapID:              e.SwapID,
		SenderAddress:       e.SenderAddress,
		SenderChain:         e.SenderChain,
		ReceiverIdentity:    e.ReceiverIdentity,
		ReceiverChain:       e.ReceiverChain,
		RecipientAddress:    e.RecipientAddress,
		OutAmount:           e.OutAmount,
		EventType:           e.Kind,
	}
}
