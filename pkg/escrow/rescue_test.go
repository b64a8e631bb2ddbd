package escrow

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/escrowd/pkg/escrowerr"
	"github.com/uhyunpark/escrowd/pkg/registry"
	"github.com/uhyunpark/escrowd/pkg/settlement"
)

func TestRescueTokenSurplus(t *testing.T) {
	h := newHarness(t)
	h.createOrder(alice, 1_000, 1_000)

	// a plain transfer without an instruction is stray funds
	h.mint(tokenA, bob, 250)
	require.NoError(t, h.bank.Transfer(h.txn, tokenA, bob, self, uint256.NewInt(250)))

	rescue := RescueTokens{Token: &TokenRef{Address: tokenA}, Key: mockViewingKey}

	_, err := h.engine.Rescue(h.ctx, h.txn, alice, rescue)
	assert.True(t, escrowerr.Unauthorized.Has(err))

	reqs, err := h.engine.Rescue(h.ctx, h.txn, admin, rescue)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	transferTo(t, reqs[0], tokenA, admin, 250)
	assert.Equal(t, "hash-a", reqs[0].CodeHash)
	h.settle(reqs)

	reqs, err = h.engine.Rescue(h.ctx, h.txn, admin, rescue)
	require.NoError(t, err)
	assert.Empty(t, reqs)

	_, err = h.engine.Rescue(h.ctx, h.txn, admin, RescueTokens{Token: &TokenRef{Address: tokenA}, Key: "wrong"})
	assert.True(t, escrowerr.Unauthorized.Has(err))
}

func TestRescueAfterCancel(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(alice, 100, 100)

	reqs, err := h.engine.Cancel(h.ctx, h.txn, alice, CancelOrder{Position: order.Position})
	require.NoError(t, err)
	h.settle(reqs)

	tok, err := registry.Get(h.txn, tokenA)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), tok.SumBalance.Uint64())
	assert.True(t, tok.Outstanding.IsZero())

	h.mint(tokenA, self, 50)
	reqs, err = h.engine.Rescue(h.ctx, h.txn, admin, RescueTokens{Token: &TokenRef{Address: tokenA}, Key: mockViewingKey})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	transferTo(t, reqs[0], tokenA, admin, 50)
}

func TestRescueKeepsOpenEscrow(t *testing.T) {
	h := newHarness(t)
	h.createOrder(alice, 1_000, 1_000)
	order := h.createOrder(alice, 400, 400)

	reqs, err := h.fill(admin, order.MirrorPosition, 400, 400)
	require.NoError(t, err)
	h.settle(reqs)
	h.mint(tokenA, self, 7)

	rescue := RescueTokens{Token: &TokenRef{Address: tokenA}, Key: mockViewingKey}
	reqs, err = h.engine.Rescue(h.ctx, h.txn, admin, rescue)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	transferTo(t, reqs[0], tokenA, admin, 7)
	h.settle(reqs)
	assert.Equal(t, uint64(1_000), h.balance(tokenA, self))

	// holdings that fall below open escrow cannot be rescued
	require.NoError(t, h.bank.Transfer(h.txn, tokenA, self, bob, uint256.NewInt(1)))
	_, err = h.engine.Rescue(h.ctx, h.txn, admin, rescue)
	assert.True(t, escrowerr.ArithmeticUnderflow.Has(err))
}

func TestRescueNative(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.bank.MintNative(h.txn, "ucoin", self, uint256.NewInt(42)))

	reqs, err := h.engine.Rescue(h.ctx, h.txn, admin, RescueTokens{Denom: "ucoin"})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, settlement.KindNativeSend, reqs[0].Kind)
	assert.Equal(t, admin, reqs[0].Recipient)
	assert.Equal(t, uint64(42), reqs[0].Amount.Uint64())

	_, err = h.engine.Rescue(h.ctx, h.txn, admin, RescueTokens{})
	assert.True(t, escrowerr.InvalidMessage.Has(err))
	_, err = h.engine.Rescue(h.ctx, h.txn, admin, RescueTokens{Denom: "ucoin", Token: &TokenRef{Address: tokenA}})
	assert.True(t, escrowerr.InvalidMessage.Has(err))
}
