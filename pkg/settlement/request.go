// Package settlement carries the outbound requests an escrow invocation emits
// and executes them before the invocation's batch commits.
package settlement

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/zeebo/errs"
)

// Error is the class of settlement failures. Any of them discards the
// invocation that emitted the requests.
var Error = errs.Class("settlement")

type Kind string

const (
	KindTransfer        Kind = "transfer"
	KindNativeSend      Kind = "native_send"
	KindRegisterReceive Kind = "register_receive"
	KindSetViewingKey   Kind = "set_viewing_key"
)

// Request is one outbound action. Requests of a batch run in emission order.
type Request struct {
	Kind       Kind
	Asset      common.Address
	Denom      string
	CodeHash   string
	Recipient  common.Address
	Amount     uint256.Int
	ViewingKey string
}

func Transfer(asset common.Address, codeHash string, to common.Address, amount *uint256.Int) Request {
	return Request{Kind: KindTransfer, Asset: asset, CodeHash: codeHash, Recipient: to, Amount: *amount}
}

func NativeSend(denom string, to common.Address, amount *uint256.Int) Request {
	return Request{Kind: KindNativeSend, Denom: denom, Recipient: to, Amount: *amount}
}

// RegisterReceive asks the token to notify the escrow of inbound transfers.
func RegisterReceive(asset common.Address, codeHash string) Request {
	return Request{Kind: KindRegisterReceive, Asset: asset, CodeHash: codeHash}
}

// SetViewingKey installs the escrow's viewing key on a token.
func SetViewingKey(asset common.Address, codeHash, key string) Request {
	return Request{Kind: KindSetViewingKey, Asset: asset, CodeHash: codeHash, ViewingKey: key}
}

func (r Request) String() string {
	switch r.Kind {
	case KindTransfer:
		return fmt.Sprintf("transfer %s of %s to %s", r.Amount.Dec(), r.Asset.Hex(), r.Recipient.Hex())
	case KindNativeSend:
		return fmt.Sprintf("send %s%s to %s", r.Amount.Dec(), r.Denom, r.Recipient.Hex())
	case KindRegisterReceive:
		return fmt.Sprintf("register receive on %s", r.Asset.Hex())
	case KindSetViewingKey:
		return fmt.Sprintf("set viewing key on %s", r.Asset.Hex())
	}
	return string(r.Kind)
}

// Batch is the request list of one invocation.
type Batch struct {
	Height uint64
	TxHash common.Hash
	// Sender is the identity the requests act for, the escrow itself.
	Sender   common.Address
	Requests []Request
}
