package escrowd

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowd/pkg/escrow"
	"github.com/uhyunpark/escrowd/pkg/escrowerr"
	"github.com/uhyunpark/escrowd/pkg/settlement"
)

// Allocation credits Amount of Asset to Owner at genesis. Denom selects a
// native balance instead.
type Allocation struct {
	Asset  common.Address `json:"asset,omitempty"`
	Denom  string         `json:"denom,omitempty"`
	Owner  common.Address `json:"owner"`
	Amount string         `json:"amount"`
}

// KeyGrant installs Owner's viewing key on Asset at genesis.
type KeyGrant struct {
	Asset common.Address `json:"asset"`
	Owner common.Address `json:"owner"`
	Key   string         `json:"key"`
}

// Genesis is the initial state of a devnet.
type Genesis struct {
	Escrow      escrow.Config
	Tokens      []escrow.TokenRef
	Allocations []Allocation
	ViewingKeys []KeyGrant
}

// InitGenesis applies g in a single batch. It is a no-op if the escrow is
// already initialized.
func (a *App) InitGenesis(ctx context.Context, g Genesis) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := a.engine.Config(a.store); err == nil {
		a.logger.Infow("genesis_skipped", "reason", "already initialized")
		return nil
	} else if !escrowerr.NotInitialized.Has(err) {
		return err
	}

	txn := a.store.Begin()
	defer txn.Discard()

	if err := a.engine.Init(ctx, txn, g.Escrow); err != nil {
		return err
	}
	cfg, err := a.engine.Config(txn)
	if err != nil {
		return err
	}
	if len(g.Tokens) > 0 {
		reqs, err := a.engine.RegisterTokens(ctx, txn, cfg.Admin, escrow.RegisterTokens{Tokens: g.Tokens})
		if err != nil {
			return err
		}
		// Genesis registration is local; nothing is published.
		if err := a.bank.Execute(ctx, txn, &settlement.Batch{Sender: cfg.Self, Requests: reqs}); err != nil {
			return err
		}
	}
	for _, al := range g.Allocations {
		amount, err := uint256.FromDecimal(al.Amount)
		if err != nil {
			return escrowerr.InvalidAmount.New("genesis allocation %q: %v", al.Amount, err)
		}
		if al.Denom != "" {
			err = a.bank.MintNative(txn, al.Denom, al.Owner, amount)
		} else {
			err = a.bank.Mint(txn, al.Asset, al.Owner, amount)
		}
		if err != nil {
			return err
		}
	}
	for _, vk := range g.ViewingKeys {
		if err := a.bank.SetViewingKey(txn, vk.Asset, vk.Owner, vk.Key); err != nil {
			return err
		}
	}
	if err := txn.Commit(); err != nil {
		return err
	}

	a.logger.Infow("genesis_applied",
		"tokens", len(g.Tokens),
		"allocations", len(g.Allocations),
		"viewing_keys", len(g.ViewingKeys),
	)
	return nil
}
