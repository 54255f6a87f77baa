package decoder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"swapOracle/internal/model"
)

// ErrInvalidDescriptor is returned for receiver descriptors that do not parse.
var ErrInvalidDescriptor = errors.New("invalid receiver descriptor")

// ReceiverDescriptor is a parsed "<chain>:<type>:<base58>" string.
type ReceiverDescriptor struct {
	ChainTag string
	TypeTag  string
	Payload  []byte
}

// Identity returns the content hash identifying the receiver on the local ledger.
func (d ReceiverDescriptor) Identity() model.Hash {
	return model.ContentHash(d.Payload)
}

// ParseReceiverDescriptor splits and base58-decodes a receiver descriptor.
func ParseReceiverDescriptor(s string) (ReceiverDescriptor, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return ReceiverDescriptor{}, fmt.Errorf("%w: want 3 parts, got %d", ErrInvalidDescriptor, len(parts))
	}
	for i, part := range parts {
		if part == "" {
			return ReceiverDescriptor{}, fmt.Errorf("%w: empty part %d", ErrInvalidDescriptor, i)
		}
	}

	payload, err := base58.Decode(parts[2])
	if err != nil {
		return ReceiverDescriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if len(payload) == 0 {
		return ReceiverDescriptor{}, fmt.Errorf("%w: empty payload", ErrInvalidDescriptor)
	}

	return ReceiverDescriptor{
		ChainTag: parts[0],
		TypeTag:  parts[1],
		Payload:  payload,
	}, nil
}

// ParseReceiverIdentity maps a receiver descriptor to its identity hash.
func ParseReceiverIdentity(s string) (model.Hash, error) {
	desc, err := ParseReceiverDescriptor(s)
	if err != nil {
		return model.Hash{}, err
	}
	return desc.Identity(), nil
}
