package escrow

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowd/pkg/escrowerr"
	"github.com/uhyunpark/escrowd/pkg/ledger"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

// Orders returns a page of owner's log, newest first, and the log length.
// The caller proves it speaks for owner with owner's viewing key on the
// loyalty token; the escrow's own log takes the escrow's viewing key.
func (e *Engine) Orders(r storage.Reader, owner common.Address, key string, page, pageSize uint32) ([]*ledger.Order, uint64, error) {
	cfg, err := loadConfig(r)
	if err != nil {
		return nil, 0, err
	}
	if owner == cfg.Self {
		if key == "" || key != cfg.ViewingKey {
			return nil, 0, escrowerr.Unauthorized.New("wrong viewing key for the escrow log")
		}
	} else if _, err := e.querier.Balance(r, cfg.Loyalty, owner, key); err != nil {
		return nil, 0, err
	}
	return ledger.Page(r, owner, page, pageSize)
}
