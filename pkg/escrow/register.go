package escrow

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowd/pkg/auth"
	"github.com/uhyunpark/escrowd/pkg/registry"
	"github.com/uhyunpark/escrowd/pkg/settlement"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

// RegisterTokens adds tokens to the directory. New tokens get a receive
// registration; every listed token gets the viewing key, registered or not.
func (e *Engine) RegisterTokens(ctx context.Context, rw storage.ReadWriter, caller common.Address, msg RegisterTokens) (_ []settlement.Request, err error) {
	defer mon.Task()(&ctx)(&err)

	cfg, err := loadConfig(rw)
	if err != nil {
		return nil, err
	}
	if err := auth.Authorize([]common.Address{cfg.Admin}, caller); err != nil {
		return nil, err
	}
	key := msg.ViewingKey
	if key == "" {
		key = cfg.ViewingKey
	}

	var reqs []settlement.Request
	for _, t := range msg.Tokens {
		created, err := registry.Register(rw, t.Address, t.CodeHash)
		if err != nil {
			return nil, err
		}
		if created {
			reqs = append(reqs, settlement.RegisterReceive(t.Address, t.CodeHash))
		}
		reqs = append(reqs, settlement.SetViewingKey(t.Address, t.CodeHash, key))
		e.logger.Infow("token_registered", "asset", t.Address.Hex(), "new", created)
	}
	return reqs, nil
}
