// Package registry is the directory of assets the escrow accepts.
package registry

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowd/pkg/escrowerr"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

// Token is a registered asset.
type Token struct {
	Address  common.Address
	CodeHash string
	// SumBalance totals every amount escrowed in this asset through order
	// creation. It only grows.
	SumBalance uint256.Int
	// Outstanding is the part of SumBalance still held for open orders.
	// Refunds and fills release it.
	Outstanding uint256.Int
}

type tokenRecord struct {
	Address     common.Address `json:"address"`
	CodeHash    string         `json:"code_hash"`
	SumBalance  string         `json:"sum_balance"`
	Outstanding string         `json:"outstanding"`
}

func (t *Token) record() tokenRecord {
	return tokenRecord{
		Address:     t.Address,
		CodeHash:    t.CodeHash,
		SumBalance:  t.SumBalance.Dec(),
		Outstanding: t.Outstanding.Dec(),
	}
}

func (r tokenRecord) token() (*Token, error) {
	t := &Token{Address: r.Address, CodeHash: r.CodeHash}
	if err := t.SumBalance.SetFromDecimal(r.SumBalance); err != nil {
		return nil, storage.Error.New("decode sum balance %q: %v", r.SumBalance, err)
	}
	if err := t.Outstanding.SetFromDecimal(r.Outstanding); err != nil {
		return nil, storage.Error.New("decode outstanding %q: %v", r.Outstanding, err)
	}
	return t, nil
}

// Lookup returns the registered token, or nil if asset is unknown.
func Lookup(r storage.Reader, asset common.Address) (*Token, error) {
	var rec tokenRecord
	ok, err := storage.GetJSON(r, storage.TokenKey(asset), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec.token()
}

// Get is Lookup that fails with escrowerr.UnregisteredAsset for unknown assets.
func Get(r storage.Reader, asset common.Address) (*Token, error) {
	t, err := Lookup(r, asset)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, escrowerr.UnregisteredAsset.New("%s", asset.Hex())
	}
	return t, nil
}

// Register adds asset with a zero sum balance. It reports false and leaves
// the existing record untouched if the asset is already registered.
func Register(rw storage.ReadWriter, asset common.Address, codeHash string) (bool, error) {
	existing, err := Lookup(rw, asset)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	t := &Token{Address: asset, CodeHash: codeHash}
	return true, storage.SetJSON(rw, storage.TokenKey(asset), t.record())
}

// AddToSum increases the sum balance and the outstanding escrow of a
// registered asset by amount.
func AddToSum(rw storage.ReadWriter, asset common.Address, amount *uint256.Int) (*Token, error) {
	t, err := Get(rw, asset)
	if err != nil {
		return nil, err
	}
	sum, overflow := new(uint256.Int).AddOverflow(&t.SumBalance, amount)
	if overflow {
		return nil, escrowerr.ArithmeticOverflow.New("sum balance of %s", asset.Hex())
	}
	// Outstanding never exceeds SumBalance, so it cannot overflow here.
	t.SumBalance = *sum
	t.Outstanding.Add(&t.Outstanding, amount)
	return t, storage.SetJSON(rw, storage.TokenKey(asset), t.record())
}

// Release lowers the outstanding escrow of asset by amount once it has left
// the escrow through a refund or a fill. SumBalance is unchanged.
func Release(rw storage.ReadWriter, asset common.Address, amount *uint256.Int) (*Token, error) {
	t, err := Get(rw, asset)
	if err != nil {
		return nil, err
	}
	left, underflow := new(uint256.Int).SubOverflow(&t.Outstanding, amount)
	if underflow {
		return nil, escrowerr.ArithmeticUnderflow.New("release %s of %s with %s outstanding",
			amount.Dec(), asset.Hex(), t.Outstanding.Dec())
	}
	t.Outstanding = *left
	return t, storage.SetJSON(rw, storage.TokenKey(asset), t.record())
}

// Scanner iterates committed state by key prefix.
type Scanner interface {
	Scan(prefix []byte, reverse bool, fn func(key, value []byte) bool) error
}

// All lists every registered token in key order.
func All(s Scanner) ([]*Token, error) {
	var (
		tokens []*Token
		decErr error
	)
	err := s.Scan(storage.TokenPrefix(), false, func(_, value []byte) bool {
		var rec tokenRecord
		if decErr = storage.DecodeJSON(value, &rec); decErr != nil {
			return false
		}
		t, err := rec.token()
		if err != nil {
			decErr = err
			return false
		}
		tokens = append(tokens, t)
		return true
	})
	if err != nil {
		return nil, err
	}
	return tokens, decErr
}
