package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain separates signatures of different deployments.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain is the local devnet domain.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "escrowd",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

// InvocationEIP712 is what a wallet signs for every escrow transaction.
// Payload is the compact JSON of the kind-specific body.
type InvocationEIP712 struct {
	Kind    string
	Payload string
	Nonce   *big.Int
	Sender  common.Address
}

var invocationTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Invocation": []apitypes.Type{
		{Name: "kind", Type: "string"},
		{Name: "payload", Type: "string"},
		{Name: "nonce", Type: "uint256"},
		{Name: "sender", Type: "address"},
	},
}

type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) typedData(inv *InvocationEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       invocationTypes,
		PrimaryType: "Invocation",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"kind":    inv.Kind,
			"payload": inv.Payload,
			"nonce":   inv.Nonce.String(),
			"sender":  inv.Sender.Hex(),
		},
	}
}

// HashInvocation returns keccak256("\x19\x01" || domainSeparator || structHash).
func (e *EIP712Signer) HashInvocation(inv *InvocationEIP712) ([]byte, error) {
	td := e.typedData(inv)

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	raw := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

func (e *EIP712Signer) SignInvocation(signer *Signer, inv *InvocationEIP712) ([]byte, error) {
	hash, err := e.HashInvocation(inv)
	if err != nil {
		return nil, fmt.Errorf("failed to hash invocation: %w", err)
	}
	return signer.Sign(hash)
}

// RecoverInvocationSigner returns the address that signed inv.
func (e *EIP712Signer) RecoverInvocationSigner(inv *InvocationEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashInvocation(inv)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash invocation: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// InvocationToJSON renders inv for eth_signTypedData_v4.
func (e *EIP712Signer) InvocationToJSON(inv *InvocationEIP712) (string, error) {
	out, err := json.MarshalIndent(e.typedData(inv), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(out), nil
}
