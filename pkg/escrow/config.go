package escrow

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowd/pkg/auth"
	"github.com/uhyunpark/escrowd/pkg/escrowerr"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

// Config is the escrow's singleton configuration.
type Config struct {
	Admin common.Address
	// Loyalty is the asset whose balance prices the creation fee.
	Loyalty common.Address
	// Self is the escrow's own identity. It owns the counterparty order log
	// and holds every escrowed asset.
	Self       common.Address
	CodeHash   string
	ViewingKey string
	// Fillers may settle orders. Always contains Self and Admin.
	Fillers      []common.Address
	FeeRecipient common.Address
	ExecutionFee uint256.Int
}

type configRecord struct {
	Admin        common.Address   `json:"admin"`
	Loyalty      common.Address   `json:"loyalty"`
	Self         common.Address   `json:"self"`
	CodeHash     string           `json:"code_hash"`
	ViewingKey   string           `json:"viewing_key"`
	Fillers      []common.Address `json:"fillers"`
	FeeRecipient common.Address   `json:"fee_recipient"`
	ExecutionFee string           `json:"execution_fee"`
}

// normalize force-includes Self and Admin in the allow-list and defaults the
// fee recipient to the admin.
func (c *Config) normalize() {
	c.Fillers = auth.Extend(c.Fillers, c.Self, c.Admin)
	if c.FeeRecipient == (common.Address{}) {
		c.FeeRecipient = c.Admin
	}
}

func loadConfig(r storage.Reader) (*Config, error) {
	var rec configRecord
	ok, err := storage.GetJSON(r, storage.ConfigKey(), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, escrowerr.NotInitialized.New("no config")
	}
	c := &Config{
		Admin:        rec.Admin,
		Loyalty:      rec.Loyalty,
		Self:         rec.Self,
		CodeHash:     rec.CodeHash,
		ViewingKey:   rec.ViewingKey,
		Fillers:      rec.Fillers,
		FeeRecipient: rec.FeeRecipient,
	}
	if err := c.ExecutionFee.SetFromDecimal(rec.ExecutionFee); err != nil {
		return nil, storage.Error.New("decode execution fee %q: %v", rec.ExecutionFee, err)
	}
	return c, nil
}

func saveConfig(w storage.Writer, c *Config) error {
	return storage.SetJSON(w, storage.ConfigKey(), configRecord{
		Admin:        c.Admin,
		Loyalty:      c.Loyalty,
		Self:         c.Self,
		CodeHash:     c.CodeHash,
		ViewingKey:   c.ViewingKey,
		Fillers:      c.Fillers,
		FeeRecipient: c.FeeRecipient,
		ExecutionFee: c.ExecutionFee.Dec(),
	})
}
