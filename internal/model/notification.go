package model

import "fmt"

// NotificationKind identifies an observer-facing ledger notification.
type NotificationKind uint8

const (
	NotifyOpened NotificationKind = iota + 1
	NotifyClaimed
	NotifyRefunded
	NotifyTransferredToIdentity
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyOpened:
		return "opened"
	case NotifyClaimed:
		return "claimed"
	case NotifyRefunded:
		return "refunded"
	case NotifyTransferredToIdentity:
		return "transferred_to_identity"
	default:
		return fmt.Sprintf("NotificationKind(%d)", uint8(k))
	}
}

func (k NotificationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *NotificationKind) UnmarshalText(text []byte) error {
	for _, candidate := range []NotificationKind{NotifyOpened, NotifyClaimed, NotifyRefunded, NotifyTransferredToIdentity} {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("invalid notification kind %q", text)
}

// Notification is emitted by the ledger after a batch commits.
// Fields not relevant to Kind are left zero.
type Notification struct {
	Kind              NotificationKind `json:"kind"`
	Height            uint64           `json:"height"`
	SwapID            Hash             `json:"swap_id"`
	ReceiverIdentity  Hash             `json:"receiver_identity"`
	ContractAddress   string           `json:"contract_address,omitempty"`
	SenderAddress     string           `json:"sender_address,omitempty"`
	CreationHeight    uint64           `json:"creation_height,omitempty"`
	ExpireHeightDelta uint32           `json:"expire_height_delta,omitempty"`
	RandomNumberHash  *Hash            `json:"random_number_hash,omitempty"`
	RandomNumber      *Hash            `json:"random_number,omitempty"`
	OutAmount         uint64           `json:"out_amount,omitempty"`
	From              string           `json:"from,omitempty"`
	To                string           `json:"to,omitempty"`
}
