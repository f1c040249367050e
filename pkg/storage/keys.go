package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema for a marketplace deployment:
//
//   bal:<address>          → balance (8-byte big-endian)
//   ord:<20-digit id>      → order (JSON)
//   res:<address>          → resident record (JSON)
//   stl:<20-digit sellID>  → settlement record (JSON)
//   nonce:<address>        → last accepted tx nonce (8-byte big-endian)
//   seq:orders             → order-id counter (8-byte big-endian)
//   seq:mints              → mint counter (8-byte big-endian)
//
// Order and settlement ids are zero-padded so prefix scans iterate in
// creation order.
const (
	prefixBalance    = "bal:"
	prefixOrder      = "ord:"
	prefixResident   = "res:"
	prefixSettlement = "stl:"
	prefixNonce      = "nonce:"

	KeyOrderSeq = "seq:orders"
	KeyMintSeq  = "seq:mints"
)

func BalanceKey(addr common.Address) []byte {
	return []byte(prefixBalance + addr.Hex())
}

func OrderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func ResidentKey(addr common.Address) []byte {
	return []byte(prefixResident + addr.Hex())
}

func SettlementKey(sellID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixSettlement, sellID))
}

func NonceKey(addr common.Address) []byte {
	return []byte(prefixNonce + addr.Hex())
}

// EncodeUint64 / DecodeUint64 are the fixed-width codec for balances and
// counters.
func EncodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func DecodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
