package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema for the escrow node's Pebble store.
//
// Escrow state:
//   cfg                      → escrow Config
//   ord:<owner>:<position>   → Order (append log entry)
//   ordn:<owner>             → append log length (uint32, big-endian)
//   tok:<asset>              → RegisteredToken
//
// Devnet token bank:
//   bal:<asset>:<owner>      → balance (decimal string)
//   nat:<denom>:<owner>      → native balance (decimal string)
//   vk:<asset>:<owner>       → viewing key
//   rcv:<asset>:<contract>   → receiver code hash
//
// Host:
//   nonce:<account>          → last accepted nonce (uint64, big-endian)
//   blk:<height>             → block header
//   head                     → latest block header
//   obx:<height>:<index>     → staged settlement batch awaiting the relay

const (
	prefixOrder      = "ord:"
	prefixOrderCount = "ordn:"
	prefixToken      = "tok:"
	prefixBalance    = "bal:"
	prefixNative     = "nat:"
	prefixViewingKey = "vk:"
	prefixReceiver   = "rcv:"
	prefixNonce      = "nonce:"
	prefixBlock      = "blk:"
	prefixOutbox     = "obx:"
)

// ConfigKey returns the key of the escrow configuration singleton.
func ConfigKey() []byte { return []byte("cfg") }

// HeadKey returns the key of the latest block header.
func HeadKey() []byte { return []byte("head") }

// OrderKey returns the key for an order log entry
// Format: "ord:{owner}:{position}"
// Position is zero-padded (10 digits) so a prefix scan walks the log in order
func OrderKey(owner common.Address, position uint32) []byte {
	return []byte(fmt.Sprintf("%s%s:%010d", prefixOrder, owner.Hex(), position))
}

// OrderPrefix returns the prefix for all log entries of an owner
// Format: "ord:{owner}:"
func OrderPrefix(owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, owner.Hex()))
}

// OrderCountKey returns the key holding the length of an owner's log
// Format: "ordn:{owner}"
func OrderCountKey(owner common.Address) []byte {
	return []byte(prefixOrderCount + owner.Hex())
}

// TokenKey returns the key for a registered token
// Format: "tok:{asset}"
func TokenKey(asset common.Address) []byte {
	return []byte(prefixToken + asset.Hex())
}

// TokenPrefix returns the prefix shared by all registered tokens.
func TokenPrefix() []byte { return []byte(prefixToken) }

// BalanceKey returns the key for a token balance held by owner
// Format: "bal:{asset}:{owner}"
func BalanceKey(asset, owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, asset.Hex(), owner.Hex()))
}

// NativeBalanceKey returns the key for a native-denom balance
// Format: "nat:{denom}:{owner}"
func NativeBalanceKey(denom string, owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixNative, denom, owner.Hex()))
}

// ViewingKeyKey returns the key for an account's viewing key on a token
// Format: "vk:{asset}:{owner}"
func ViewingKeyKey(asset, owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixViewingKey, asset.Hex(), owner.Hex()))
}

// ReceiverKey returns the key marking contract as a receiver of asset
// Format: "rcv:{asset}:{contract}"
func ReceiverKey(asset, contract common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixReceiver, asset.Hex(), contract.Hex()))
}

// NonceKey returns the key for an account's last accepted nonce
// Format: "nonce:{account}"
func NonceKey(account common.Address) []byte {
	return []byte(prefixNonce + account.Hex())
}

// BlockKey returns the key for a block header
// Format: "blk:{height}", height zero-padded (20 digits)
func BlockKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixBlock, height))
}

// BlockPrefix returns the prefix shared by all block headers.
func BlockPrefix() []byte { return []byte(prefixBlock) }

// OutboxKey returns the key of the batch staged by the index-th transaction
// of block height. Keys sort in execution order.
func OutboxKey(height uint64, index int) []byte {
	return []byte(fmt.Sprintf("%s%020d:%06d", prefixOutbox, height, index))
}

// OutboxPrefix returns the prefix shared by all staged batches.
func OutboxPrefix() []byte { return []byte(prefixOutbox) }

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
