package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// LogEntry is one raw log as served by an explorer or a JSON-RPC provider.
// Quantities keep their wire form (hex strings) until decoded.
type LogEntry struct {
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	BlockNumber      string   `json:"blockNumber"`
	TimeStamp        string   `json:"timeStamp,omitempty"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex string   `json:"transactionIndex"`
	LogIndex         string   `json:"logIndex,omitempty"`
	Removed          bool     `json:"removed,omitempty"`
}

// MarshalJSON ensures LogEntry is encoded with the wire field names.
func (le LogEntry) MarshalJSON() ([]byte, error) {
	type Alias LogEntry
	return json.Marshal(Alias(le))
}

// UnmarshalJSON decodes a LogEntry from JSON.
func (le *LogEntry) UnmarshalJSON(data []byte) error {
	type Alias LogEntry
	var a Alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*le = LogEntry(a)
	return nil
}

// Topic0 returns the event signature topic, or "" when the entry has none.
func (le LogEntry) Topic0() string {
	if len(le.Topics) == 0 {
		return ""
	}
	return le.Topics[0]
}

// ParseQuantity parses a hex quantity as served by explorers.
// Explorers emit "0x" for zero and sometimes keep leading zeros, both accepted.
func ParseQuantity(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return 0, fmt.Errorf("quantity %q: missing 0x prefix", s)
	}
	digits := s[2:]
	if digits == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("quantity %q: %w", s, err)
	}
	return v, nil
}
