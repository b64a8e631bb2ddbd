package transaction

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowd/pkg/crypto"
)

// Verifier checks envelope signatures against a fixed EIP-712 domain.
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Verify returns the sender if the signature recovers to it.
func (v *Verifier) Verify(tx *SignedTransaction) (common.Address, error) {
	inv, err := tx.ToEIP712()
	if err != nil {
		return common.Address{}, err
	}
	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature: %w", err)
	}
	recovered, err := v.eip712Signer.RecoverInvocationSigner(inv, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("signature verification failed: %w", err)
	}
	if recovered != inv.Sender {
		return common.Address{}, fmt.Errorf("signature by %s, sender is %s", recovered.Hex(), inv.Sender.Hex())
	}
	return recovered, nil
}

// decodeSignature decodes hex with or without 0x prefix
func decodeSignature(sig string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(b) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(b))
	}
	return b, nil
}
