package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestLogEntryJSONWireNames(t *testing.T) {
	raw := []byte(`{
		"address": "0x1111111111111111111111111111111111111111",
		"topics": ["0xaaa", "0xbbb"],
		"data": "0xdeadbeef",
		"blockNumber": "0x10",
		"timeStamp": "0x5f5e100",
		"transactionHash": "0xdef456",
		"transactionIndex": "0x",
		"removed": true
	}`)

	var decoded LogEntry
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	want := LogEntry{
		Address:          "0x1111111111111111111111111111111111111111",
		Topics:           []string{"0xaaa", "0xbbb"},
		Data:             "0xdeadbeef",
		BlockNumber:      "0x10",
		TimeStamp:        "0x5f5e100",
		TransactionHash:  "0xdef456",
		TransactionIndex: "0x",
		Removed:          true,
	}
	if !reflect.DeepEqual(decoded, want) {
		t.Fatalf("decode mismatch: %+v != %+v", decoded, want)
	}
	if decoded.Topic0() != "0xaaa" {
		t.Fatalf("topic0 mismatch: %s", decoded.Topic0())
	}
}

func TestParseQuantity(t *testing.T) {
	cases := map[string]uint64{
		"0x":      0,
		"0x0":     0,
		"0x10":    16,
		"0x00ff":  255,
		"0XABCDE": 0xabcde,
	}
	for input, want := range cases {
		got, err := ParseQuantity(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %d want %d", input, got, want)
		}
	}

	for _, bad := range []string{"", "10", "0xzz", "0x1ffffffffffffffff"} {
		if _, err := ParseQuantity(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
