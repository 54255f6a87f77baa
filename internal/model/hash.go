package model

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/blake2b"
)

// Hash is a 32-byte value rendered as 0x-prefixed hex. Swap ids and receiver
// identities are BLAKE2b-256 content hashes.
type Hash = common.Hash

// ContentHash returns the BLAKE2b-256 digest of data.
func ContentHash(data []byte) Hash {
	return Hash(blake2b.Sum256(data))
}
