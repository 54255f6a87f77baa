package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"swapOracle/internal/model"
)

// JSONLSink appends records to a JSONL file. It serves as the ledger
// notification feed and as the decode error log.
type JSONLSink struct {
	path string
	mu   sync.Mutex
}

func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{path: path}
}

// Path returns the output file.
func (s *JSONLSink) Path() string {
	return s.path
}

// Publish appends ledger notifications.
func (s *JSONLSink) Publish(_ context.Context, notes []model.Notification) error {
	return writeLines(s, notes)
}

// PutDecodeErrors appends per-entry decode failures.
func (s *JSONLSink) PutDecodeErrors(errs []model.DecodeError) error {
	return writeLines(s, errs)
}

// PutEvents appends decoded swap events.
func (s *JSONLSink) PutEvents(events []model.SwapEvent) error {
	return writeLines(s, events)
}

func writeLines[T any](s *JSONLSink, records []T) error {
	if len(records) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}
