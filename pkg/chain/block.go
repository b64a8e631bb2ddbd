package chain

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/escrowd/pkg/storage"
)

// Header is the persisted record of a produced block.
type Header struct {
	Height   uint64        `json:"height"`
	Time     int64         `json:"time"`
	Parent   common.Hash   `json:"parent"`
	AppHash  common.Hash   `json:"app_hash"`
	Txs      []common.Hash `json:"txs"`
	Rejected int           `json:"rejected"`
}

// Hash commits to height, time, parent and the ordered transaction hashes.
// AppHash is excluded: it is known only after execution.
func (h *Header) Hash() common.Hash {
	k := sha3.NewLegacyKeccak256()
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], h.Height)
	binary.BigEndian.PutUint64(buf[8:], uint64(h.Time))
	k.Write(buf[:])
	k.Write(h.Parent[:])
	for _, tx := range h.Txs {
		k.Write(tx[:])
	}
	var out common.Hash
	k.Sum(out[:0])
	return out
}

// Head returns the latest produced header, or nil before the first block.
func Head(r storage.Reader) (*Header, error) {
	var h Header
	ok, err := storage.GetJSON(r, storage.HeadKey(), &h)
	if err != nil || !ok {
		return nil, err
	}
	return &h, nil
}

// GetBlock returns the header at height, or nil if none was produced.
func GetBlock(r storage.Reader, height uint64) (*Header, error) {
	var h Header
	ok, err := storage.GetJSON(r, storage.BlockKey(height), &h)
	if err != nil || !ok {
		return nil, err
	}
	return &h, nil
}

func putHeader(w storage.Writer, h *Header) error {
	if err := storage.SetJSON(w, storage.BlockKey(h.Height), h); err != nil {
		return err
	}
	return storage.SetJSON(w, storage.HeadKey(), h)
}
