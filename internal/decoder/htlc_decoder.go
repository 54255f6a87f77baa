package decoder

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"swapOracle/internal/model"
)

// Bridge contract event signatures (topic0).
const (
	OpenTopic   = "0x5a0cc384a12a55445d4625db5d24f6a72177fd330644e2d4b3ea0ebd6f78c54d"
	ClaimTopic  = "0x07a9dd1ef03da239626dc5c5bac1995991043d2b6e0e23ca789bbc0a16eb911f"
	RefundTopic = "0x215e15eef6d0300f9e89d940198e4f7fc22e44b7c80118c03571cd96da6c6c98"
)

// Remote amounts carry 18 decimals, the local ledger 15.
var precisionDivisor = big.NewInt(1000)

var (
	ErrAmountMismatch = errors.New("out amount does not match mirrored amount")
	ErrZeroAmount     = errors.New("out amount must be positive")
	ErrAmountOverflow = errors.New("local amount overflows uint64")
	ErrExpireHeight   = errors.New("invalid expire height")
	ErrContract       = errors.New("log emitted by unexpected contract")
)

// DecoderConfig configures the HTLC decoder.
type DecoderConfig struct {
	// Contract restricts decoding to logs emitted by this address when set.
	Contract string
	// Topic0Map adds extra topic0 -> event kind mappings ("open", "claim", "refund").
	Topic0Map map[string]string
}

// HTLCDecoder decodes the bridge contract's Open, Claim and Refund events.
type HTLCDecoder struct {
	contract    *common.Address
	topicToKind map[string]model.EventKind
}

// NewHTLCDecoder builds an HTLC event decoder.
func NewHTLCDecoder(cfg DecoderConfig) (*HTLCDecoder, error) {
	topicToKind := map[string]model.EventKind{
		OpenTopic:   model.EventOpen,
		ClaimTopic:  model.EventClaimed,
		RefundTopic: model.EventRefunded,
	}

	for topic0, name := range cfg.Topic0Map {
		kind, err := model.ParseEventKind(name)
		if err != nil {
			return nil, fmt.Errorf("unsupported event name in topic0 map: %s", name)
		}
		if topic0 == "" {
			continue
		}
		topicToKind[strings.ToLower(topic0)] = kind
	}

	d := &HTLCDecoder{topicToKind: topicToKind}
	if cfg.Contract != "" {
		if !common.IsHexAddress(cfg.Contract) {
			return nil, fmt.Errorf("invalid contract address: %s", cfg.Contract)
		}
		addr := common.HexToAddress(cfg.Contract)
		d.contract = &addr
	}
	return d, nil
}

// CanDecode checks if the topic0 is one of the bridge events.
func (d *HTLCDecoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topicToKind[strings.ToLower(topic0)]
	return ok
}

// DecodeEntry converts a log entry into a SwapEvent.
func (d *HTLCDecoder) DecodeEntry(entry model.LogEntry) (model.SwapEvent, error) {
	kind, ok := d.topicToKind[strings.ToLower(entry.Topic0())]
	if !ok {
		return model.SwapEvent{}, fmt.Errorf("unsupported topic0: %s", entry.Topic0())
	}
	if len(entry.Topics) != 4 {
		return model.SwapEvent{}, fmt.Errorf("%s: want 4 topics, got %d", kind, len(entry.Topics))
	}
	if !common.IsHexAddress(entry.Address) {
		return model.SwapEvent{}, fmt.Errorf("invalid contract address: %s", entry.Address)
	}
	contract := common.HexToAddress(entry.Address)
	if d.contract != nil && contract != *d.contract {
		return model.SwapEvent{}, fmt.Errorf("%w: %s", ErrContract, contract.Hex())
	}

	event, err := decodeHeader(kind, contract, entry)
	if err != nil {
		return model.SwapEvent{}, err
	}

	r, err := newWordReader(entry.Data)
	if err != nil {
		return model.SwapEvent{}, err
	}

	switch kind {
	case model.EventOpen:
		err = decodeOpenData(r, &event)
	case model.EventClaimed:
		err = decodeClaimData(r, &event)
	case model.EventRefunded:
		err = decodeRefundData(r, &event)
	default:
		err = fmt.Errorf("unsupported event kind %s", kind)
	}
	if err != nil {
		return model.SwapEvent{}, fmt.Errorf("%s: %w", kind, err)
	}
	return event, nil
}

func decodeHeader(kind model.EventKind, contract common.Address, entry model.LogEntry) (model.SwapEvent, error) {
	sender, err := parseTopic(entry.Topics[1], "sender")
	if err != nil {
		return model.SwapEvent{}, err
	}
	recipient, err := parseTopic(entry.Topics[2], "recipient")
	if err != nil {
		return model.SwapEvent{}, err
	}
	remoteID, err := parseTopic(entry.Topics[3], "swap id")
	if err != nil {
		return model.SwapEvent{}, err
	}

	blockNumber, err := model.ParseQuantity(entry.BlockNumber)
	if err != nil {
		return model.SwapEvent{}, fmt.Errorf("block number: %w", err)
	}

	event := model.SwapEvent{
		Kind:              kind,
		ContractAddress:   contract.Hex(),
		RemoteEventHeight: blockNumber,
		SwapID:            SwapIDFromTopic(remoteID),
		SenderAddress:     common.BytesToAddress(sender.Bytes()).Hex(),
		SenderChain:       model.ChainETHMain,
		ReceiverChain:     model.ChainPRA,
		RecipientAddress:  recipient,
		TxHash:            entry.TransactionHash,
	}

	if entry.TransactionIndex != "" {
		if event.TxIndex, err = model.ParseQuantity(entry.TransactionIndex); err != nil {
			return model.SwapEvent{}, fmt.Errorf("transaction index: %w", err)
		}
	}
	if entry.TimeStamp != "" {
		if event.Timestamp, err = model.ParseQuantity(entry.TimeStamp); err != nil {
			return model.SwapEvent{}, fmt.Errorf("timestamp: %w", err)
		}
	}
	return event, nil
}

// SwapIDFromTopic derives the local swap id from the remote swap id topic:
// the content hash of its lowercase hex text without the 0x prefix.
func SwapIDFromTopic(remote common.Hash) model.Hash {
	return model.ContentHash([]byte(remote.Hex()[2:]))
}

func parseTopic(topic, field string) (common.Hash, error) {
	b, err := hexutil.Decode(topic)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s topic: %w", field, err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%s topic: want %d bytes, got %d", field, common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

// Open data: randomNumberHash, htlcTimestamp, expireHeight, outAmount,
// mirroredAmount, receiver (string).
func decodeOpenData(r *wordReader, event *model.SwapEvent) error {
	var err error
	if event.RandomNumberHash, err = r.readHash("random number hash"); err != nil {
		return err
	}
	if err = r.skip("htlc timestamp"); err != nil {
		return err
	}
	expireHeight, err := r.readUint64("expire height")
	if err != nil {
		return err
	}
	outAmount, err := r.readUint("out amount")
	if err != nil {
		return err
	}
	mirrored, err := r.readUint("mirrored amount")
	if err != nil {
		return err
	}
	if err := r.skip("receiver offset"); err != nil {
		return err
	}
	receiver, err := r.readString("receiver")
	if err != nil {
		return err
	}

	if outAmount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if outAmount.Cmp(mirrored) != 0 {
		return fmt.Errorf("%w: %s != %s", ErrAmountMismatch, outAmount, mirrored)
	}
	if event.OutAmount, err = toLocalAmount(outAmount); err != nil {
		return err
	}
	if event.ExpireHeightDelta, err = expireDelta(expireHeight, event.RemoteEventHeight); err != nil {
		return err
	}
	if event.ReceiverIdentity, err = ParseReceiverIdentity(receiver); err != nil {
		return err
	}
	return nil
}

// Claim data: randomNumber, receiver (string).
func decodeClaimData(r *wordReader, event *model.SwapEvent) error {
	var err error
	if event.RandomNumber, err = r.readHash("random number"); err != nil {
		return err
	}
	return decodeReceiver(r, event)
}

// Refund data: randomNumberHash, receiver (string).
func decodeRefundData(r *wordReader, event *model.SwapEvent) error {
	var err error
	if event.RandomNumberHash, err = r.readHash("random number hash"); err != nil {
		return err
	}
	return decodeReceiver(r, event)
}

func decodeReceiver(r *wordReader, event *model.SwapEvent) error {
	if err := r.skip("receiver offset"); err != nil {
		return err
	}
	receiver, err := r.readString("receiver")
	if err != nil {
		return err
	}
	event.ReceiverIdentity, err = ParseReceiverIdentity(receiver)
	return err
}

func toLocalAmount(remote *big.Int) (uint64, error) {
	local := new(big.Int).Quo(remote, precisionDivisor)
	if !local.IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrAmountOverflow, local)
	}
	return local.Uint64(), nil
}

// expireDelta converts the absolute remote expire height into a height delta.
func expireDelta(expireHeight, eventHeight uint64) (uint32, error) {
	if expireHeight < eventHeight {
		return 0, fmt.Errorf("%w: %d below event height %d", ErrExpireHeight, expireHeight, eventHeight)
	}
	delta := expireHeight - eventHeight
	if delta > math.MaxUint32 {
		return 0, fmt.Errorf("%w: delta %d overflows uint32", ErrExpireHeight, delta)
	}
	return uint32(delta), nil
}
