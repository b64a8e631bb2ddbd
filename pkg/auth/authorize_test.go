package auth

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/escrowd/pkg/escrowerr"
)

var (
	admin  = common.HexToAddress("0xAD00000000000000000000000000000000000000")
	filler = common.HexToAddress("0xF100000000000000000000000000000000000000")
	alice  = common.HexToAddress("0xAA00000000000000000000000000000000000000")
)

func TestAuthorize(t *testing.T) {
	allowed := []common.Address{admin, filler}

	require.NoError(t, Authorize(allowed, admin))
	require.NoError(t, Authorize(allowed, filler))

	err := Authorize(allowed, alice)
	require.Error(t, err)
	assert.True(t, escrowerr.Unauthorized.Has(err))

	err = Authorize(nil, admin)
	assert.True(t, escrowerr.Unauthorized.Has(err))
}

func TestExtendNeverShrinks(t *testing.T) {
	got := Extend([]common.Address{admin, filler}, filler, alice, admin)
	assert.Equal(t, []common.Address{admin, filler, alice}, got)

	got = Extend(got)
	assert.Equal(t, []common.Address{admin, filler, alice}, got)
}
