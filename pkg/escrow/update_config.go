package escrow

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowd/pkg/auth"
	"github.com/uhyunpark/escrowd/pkg/escrowerr"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

// UpdateConfig applies an admin's changes. The filler allow-list only grows;
// rotating the admin adds the new admin to it as well.
func (e *Engine) UpdateConfig(ctx context.Context, rw storage.ReadWriter, caller common.Address, msg UpdateConfig) (err error) {
	defer mon.Task()(&ctx)(&err)

	cfg, err := loadConfig(rw)
	if err != nil {
		return err
	}
	if err := auth.Authorize([]common.Address{cfg.Admin}, caller); err != nil {
		return err
	}

	next := *cfg
	if msg.Admin != nil {
		if *msg.Admin == (common.Address{}) {
			return escrowerr.InvalidMessage.New("admin cannot be the zero address")
		}
		next.Admin = *msg.Admin
	}
	next.Fillers = auth.Extend(cfg.Fillers, msg.Fillers...)
	if msg.FeeRecipient != nil {
		next.FeeRecipient = *msg.FeeRecipient
	}
	if msg.ExecutionFee != nil {
		v, err := ParseAmount("execution_fee", *msg.ExecutionFee)
		if err != nil {
			return err
		}
		next.ExecutionFee = *v
	}
	if msg.ViewingKey != nil {
		next.ViewingKey = *msg.ViewingKey
	}
	next.normalize()

	if err := saveConfig(rw, &next); err != nil {
		return err
	}
	e.logger.Infow("config_updated",
		"admin", next.Admin.Hex(),
		"fillers", len(next.Fillers),
		"fee_recipient", next.FeeRecipient.Hex(),
		"execution_fee", next.ExecutionFee.Dec(),
	)
	return nil
}
