// Package abci is the boundary between block production and the escrow
// application: the producer asks for a proposal, then finalizes it.
package abci

import "github.com/ethereum/go-ethereum/common"

type RequestPrepareProposal struct {
	Height     uint64
	MaxTxBytes int64
}

type ResponsePrepareProposal struct{ Txs [][]byte }

type RequestFinalizeBlock struct {
	Height      uint64
	Timestamp   int64 // Unix seconds
	PrevAppHash common.Hash
	Txs         [][]byte
}

// TxResult is the outcome of one transaction in a finalized block.
type TxResult struct {
	Hash   common.Hash
	Type   string
	Sender common.Address
	// Touched lists the accounts whose orders or balances the transaction
	// changed, sender first.
	Touched []common.Address
	// Code is "ok" for committed transactions, otherwise the error code of
	// the rejection.
	Code string
	Log  string
}

type ResponseFinalizeBlock struct {
	TxResults []TxResult
	AppHash   common.Hash
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
}
