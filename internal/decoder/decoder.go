package decoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"swapOracle/internal/metrics"
	"swapOracle/internal/model"
)

// ErrMalformedPayload is returned when a response body cannot yield any events.
var ErrMalformedPayload = errors.New("malformed payload")

// EventDecoder decodes a single log entry into a swap event.
type EventDecoder interface {
	CanDecode(topic0 string) bool
	DecodeEntry(entry model.LogEntry) (model.SwapEvent, error)
}

// Result is the outcome of decoding one response body. Events keep source order.
type Result struct {
	Events  []model.SwapEvent
	Errors  []model.DecodeError
	Skipped int
}

type explorerEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type providerEnvelope struct {
	Result []model.LogEntry `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// UnwrapEntries extracts the log entries from a body in the given dialect.
// Provider entries flagged as removed are dropped here.
func UnwrapEntries(body []byte, kind model.SourceKind) ([]model.LogEntry, error) {
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("%w: body is not valid utf-8", ErrMalformedPayload)
	}

	switch kind {
	case model.SourceExplorer:
		var env explorerEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if env.Status != "1" || env.Message != "OK" {
			return nil, fmt.Errorf("%w: explorer status %q message %q", ErrMalformedPayload, env.Status, env.Message)
		}
		var entries []model.LogEntry
		if err := json.Unmarshal(env.Result, &entries); err != nil {
			return nil, fmt.Errorf("%w: explorer result: %v", ErrMalformedPayload, err)
		}
		return entries, nil
	case model.SourceProvider:
		var env providerEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if env.Error != nil {
			return nil, fmt.Errorf("%w: rpc error %d: %s", ErrMalformedPayload, env.Error.Code, env.Error.Message)
		}
		entries := make([]model.LogEntry, 0, len(env.Result))
		for _, entry := range env.Result {
			if entry.Removed {
				continue
			}
			entries = append(entries, entry)
		}
		return entries, nil
	default:
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidSourceKind, kind)
	}
}

// Decoder turns raw fetch results into ordered swap events.
type Decoder struct {
	events  EventDecoder
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New builds a Decoder around an EventDecoder.
func New(events EventDecoder, m *metrics.Metrics, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{events: events, metrics: m, logger: logger}
}

// Decode unwraps body and decodes every entry. A malformed body yields an
// error and no events; a bad entry is recorded in Result.Errors and skipped.
func (d *Decoder) Decode(body []byte, kind model.SourceKind) (Result, error) {
	entries, err := UnwrapEntries(body, kind)
	if err != nil {
		d.metrics.DecodeOutcome("malformed")
		return Result{}, err
	}
	return d.DecodeEntries(entries, kind), nil
}

// DecodeEntries decodes already unwrapped entries.
func (d *Decoder) DecodeEntries(entries []model.LogEntry, kind model.SourceKind) Result {
	res := Result{Events: make([]model.SwapEvent, 0, len(entries))}
	for i, entry := range entries {
		topic0 := entry.Topic0()
		if !d.events.CanDecode(topic0) {
			res.Skipped++
			d.metrics.DecodeOutcome("unknown")
			d.logger.Info("skip unknown event",
				zap.Int("index", i),
				zap.String("topic0", topic0),
				zap.String("tx_hash", entry.TransactionHash),
			)
			continue
		}

		event, err := d.events.DecodeEntry(entry)
		if err != nil {
			res.Errors = append(res.Errors, model.NewDecodeError(kind, entry, err))
			d.metrics.DecodeOutcome("failed")
			d.logger.Warn("decode event failed",
				zap.Int("index", i),
				zap.String("topic0", topic0),
				zap.String("tx_hash", entry.TransactionHash),
				zap.Error(err),
			)
			continue
		}

		res.Events = append(res.Events, event)
		d.metrics.DecodeOutcome("decoded")
	}
	return res
}
