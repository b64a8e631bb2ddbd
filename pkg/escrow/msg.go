package escrow

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowd/pkg/escrowerr"
)

// Receive is the notification a registered token delivers after a transfer
// to the escrow. Asset is the notifying token; From is the holder whose
// funds moved.
type Receive struct {
	Sender common.Address
	From   common.Address
	Asset  common.Address
	Amount uint256.Int
	Msg    json.RawMessage
}

// ReceiveMsg is the instruction attached to an inbound transfer. Exactly one
// field is set.
type ReceiveMsg struct {
	CreateOrder *CreateOrderMsg `json:"create_order,omitempty"`
	FillOrder   *FillOrderMsg   `json:"fill_order,omitempty"`
	CancelOrder *CancelOrderMsg `json:"cancel_order,omitempty"`
}

type CreateOrderMsg struct {
	ToAsset         common.Address `json:"to_asset"`
	RequestedAmount string         `json:"requested_amount"`
	LoyaltyKey      string         `json:"loyalty_key"`
}

type FillOrderMsg struct {
	Position uint32 `json:"position"`
	// Amount is the quantity of the escrowed asset to settle.
	Amount string `json:"amount"`
}

// CancelOrderMsg cancels by sending back a zero amount of the escrowed asset.
type CancelOrderMsg struct {
	Position uint32 `json:"position"`
}

// CancelOrder cancels an order of the caller's own log.
type CancelOrder struct {
	Position uint32 `json:"position"`
}

// TokenRef names a token and the metadata needed to call it.
type TokenRef struct {
	Address  common.Address `json:"address"`
	CodeHash string         `json:"code_hash"`
}

type RegisterTokens struct {
	Tokens []TokenRef `json:"tokens"`
	// ViewingKey is installed on every listed token. Empty means the
	// configured key.
	ViewingKey string `json:"viewing_key,omitempty"`
}

// RescueTokens names exactly one of a native denom or a token.
type RescueTokens struct {
	Denom string    `json:"denom,omitempty"`
	Token *TokenRef `json:"token,omitempty"`
	// Key authenticates the escrow's balance query on Token.
	Key string `json:"key,omitempty"`
}

// UpdateConfig replaces the fields that are set. Fillers are only added.
type UpdateConfig struct {
	Admin        *common.Address  `json:"admin,omitempty"`
	Fillers      []common.Address `json:"fillers,omitempty"`
	FeeRecipient *common.Address  `json:"fee_recipient,omitempty"`
	ExecutionFee *string          `json:"execution_fee,omitempty"`
	ViewingKey   *string          `json:"viewing_key,omitempty"`
}

// DecodeReceiveMsg parses and checks an inbound instruction.
func DecodeReceiveMsg(raw json.RawMessage) (*ReceiveMsg, error) {
	if len(raw) == 0 {
		return nil, escrowerr.InvalidMessage.New("missing instruction")
	}
	var m ReceiveMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, escrowerr.InvalidMessage.New("%v", err)
	}
	set := 0
	for _, present := range []bool{m.CreateOrder != nil, m.FillOrder != nil, m.CancelOrder != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, escrowerr.InvalidMessage.New("expected exactly one instruction, got %d", set)
	}
	return &m, nil
}

// ParseAmount parses a decimal quantity.
func ParseAmount(field, s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, escrowerr.InvalidAmount.New("%s %q: %v", field, s, err)
	}
	return v, nil
}
