// Package auth is the allow-list gate in front of privileged escrow operations.
package auth

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowd/pkg/escrowerr"
)

// Authorize fails with escrowerr.Unauthorized unless actual is in allowed.
func Authorize(allowed []common.Address, actual common.Address) error {
	for _, a := range allowed {
		if a == actual {
			return nil
		}
	}
	return escrowerr.Unauthorized.New("%s", actual.Hex())
}

// Extend returns allowed with every address of extra appended, skipping
// duplicates. Order of first appearance is kept so stored lists stay stable.
func Extend(allowed []common.Address, extra ...common.Address) []common.Address {
	seen := make(map[common.Address]struct{}, len(allowed)+len(extra))
	out := make([]common.Address, 0, len(allowed)+len(extra))
	for _, list := range [][]common.Address{allowed, extra} {
		for _, a := range list {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}
