package model

// DecodeError records a decode failure for a single log entry.
type DecodeError struct {
	Source      string `json:"source"`
	BlockNumber string `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    string `json:"log_index"`
	Address     string `json:"address"`
	Topic0      string `json:"topic0"`
	Error       string `json:"error"`
}

// NewDecodeError builds a DecodeError for entry.
func NewDecodeError(source SourceKind, entry LogEntry, err error) DecodeError {
	return DecodeError{
		Source:      source.String(),
		BlockNumber: entry.BlockNumber,
		TxHash:      entry.TransactionHash,
		LogIndex:    entry.LogIndex,
		Address:     entry.Address,
		Topic0:      entry.Topic0(),
		Error:       err.Error(),
	}
}
