// Package transaction defines the signed envelope every escrow invocation
// travels in, from the API through the mempool into a block.
package transaction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/escrowd/pkg/crypto"
)

type TxType string

const (
	// TxTypeSend transfers a token, optionally to the escrow with an
	// instruction (create, fill, or cancel by send-back).
	TxTypeSend           TxType = "send"
	TxTypeSetViewingKey  TxType = "set_viewing_key"
	TxTypeCancelOrder    TxType = "cancel_order"
	TxTypeRegisterTokens TxType = "register_tokens"
	TxTypeRescueTokens   TxType = "rescue_tokens"
	TxTypeUpdateConfig   TxType = "update_config"
)

// SignedTransaction is the wire envelope.
//
//	{
//	  "type": "cancel_order",
//	  "sender": "0x742d...",
//	  "nonce": "7",
//	  "payload": {"position": 3},
//	  "signature": "0x..."
//	}
type SignedTransaction struct {
	Type      TxType          `json:"type"`
	Sender    string          `json:"sender"`
	Nonce     string          `json:"nonce"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// SendPayload moves Amount of Asset to Recipient. Msg is delivered to the
// recipient if it is a registered receiver.
type SendPayload struct {
	Asset     common.Address  `json:"asset"`
	Recipient common.Address  `json:"recipient"`
	Amount    string          `json:"amount"`
	Msg       json.RawMessage `json:"msg,omitempty"`
}

type SetViewingKeyPayload struct {
	Asset common.Address `json:"asset"`
	Key   string         `json:"key"`
}

// New builds an unsigned envelope around payload.
func New(txType TxType, sender common.Address, nonce uint64, payload any) (*SignedTransaction, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &SignedTransaction{
		Type:    txType,
		Sender:  sender.Hex(),
		Nonce:   fmt.Sprint(nonce),
		Payload: body,
	}, nil
}

// ToEIP712 returns the typed data the sender signs.
func (tx *SignedTransaction) ToEIP712() (*crypto.InvocationEIP712, error) {
	nonce, ok := new(big.Int).SetString(tx.Nonce, 10)
	if !ok || nonce.Sign() < 0 {
		return nil, fmt.Errorf("invalid nonce: %s", tx.Nonce)
	}
	var payload bytes.Buffer
	if err := json.Compact(&payload, tx.Payload); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	return &crypto.InvocationEIP712{
		Kind:    string(tx.Type),
		Payload: payload.String(),
		Nonce:   nonce,
		Sender:  common.HexToAddress(tx.Sender),
	}, nil
}

// Sign fills in the signature.
func (tx *SignedTransaction) Sign(e *crypto.EIP712Signer, signer *crypto.Signer) error {
	inv, err := tx.ToEIP712()
	if err != nil {
		return err
	}
	sig, err := e.SignInvocation(signer, inv)
	if err != nil {
		return err
	}
	tx.Signature = "0x" + common.Bytes2Hex(sig)
	return nil
}

// NonceUint64 returns the nonce; Validate guarantees it parses.
func (tx *SignedTransaction) NonceUint64() (uint64, error) {
	n, ok := new(big.Int).SetString(tx.Nonce, 10)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("invalid nonce: %s", tx.Nonce)
	}
	return n.Uint64(), nil
}

func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Hash identifies the raw bytes a transaction arrived as.
func Hash(raw []byte) common.Hash {
	return ethcrypto.Keccak256Hash(raw)
}

func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate checks the envelope's shape, not its signature.
func (tx *SignedTransaction) Validate() error {
	switch tx.Type {
	case TxTypeSend, TxTypeSetViewingKey, TxTypeCancelOrder,
		TxTypeRegisterTokens, TxTypeRescueTokens, TxTypeUpdateConfig:
	case "":
		return fmt.Errorf("missing transaction type")
	default:
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}
	if !common.IsHexAddress(tx.Sender) {
		return fmt.Errorf("invalid sender: %q", tx.Sender)
	}
	if _, err := tx.NonceUint64(); err != nil {
		return err
	}
	if len(tx.Payload) == 0 {
		return fmt.Errorf("missing payload")
	}
	if tx.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	return nil
}

// ParseTransaction decodes and validates raw envelope bytes.
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}
