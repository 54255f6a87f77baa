package decoder

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const wordSize = 32

// ErrShortData is returned when a field read runs past the end of the data blob.
var ErrShortData = errors.New("data too short")

// wordReader walks ABI-encoded event data one 32-byte word at a time.
// Every read is bounds checked and names the field it was reading.
type wordReader struct {
	data []byte
	pos  int
}

func newWordReader(hexData string) (*wordReader, error) {
	data, err := hexutil.Decode(hexData)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	return &wordReader{data: data}, nil
}

func (r *wordReader) next(field string, n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) || r.pos+n < r.pos {
		return nil, fmt.Errorf("%s at offset %d: %w", field, r.pos, ErrShortData)
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *wordReader) word(field string) ([]byte, error) {
	return r.next(field, wordSize)
}

func (r *wordReader) skip(field string) error {
	_, err := r.word(field)
	return err
}

func (r *wordReader) readHash(field string) (common.Hash, error) {
	w, err := r.word(field)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(w), nil
}

func (r *wordReader) readUint(field string) (*big.Int, error) {
	w, err := r.word(field)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(w), nil
}

func (r *wordReader) readUint64(field string) (uint64, error) {
	v, err := r.readUint(field)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%s: value %s overflows uint64", field, v)
	}
	return v.Uint64(), nil
}

// readString reads a length word followed by that many bytes of payload,
// then moves past the zero padding of the last word.
func (r *wordReader) readString(field string) (string, error) {
	length, err := r.readUint64(field + " length")
	if err != nil {
		return "", err
	}
	if length > uint64(len(r.data)) {
		return "", fmt.Errorf("%s length %d: %w", field, length, ErrShortData)
	}
	payload, err := r.next(field, int(length))
	if err != nil {
		return "", err
	}
	// A truncated final padding word is accepted: the receiver string is
	// the last field of every event, so nothing is read past it.
	if pad := int(length % wordSize); pad != 0 && r.pos+wordSize-pad <= len(r.data) {
		r.pos += wordSize - pad
	}
	return string(payload), nil
}
