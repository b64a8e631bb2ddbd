package api

// API response types for REST endpoints and WebSocket messages.
// Quantities are decimal strings.

// ==============================
// REST Response Types
// ==============================

// ConfigInfo is the public part of the escrow configuration.
type ConfigInfo struct {
	Admin        string   `json:"admin"`
	Self         string   `json:"self"`
	Loyalty      string   `json:"loyalty"`
	CodeHash     string   `json:"codeHash"`
	Fillers      []string `json:"fillers"`
	FeeRecipient string   `json:"feeRecipient"`
	ExecutionFee string   `json:"executionFee"`
}

type TokenInfo struct {
	Address     string `json:"address"`
	CodeHash    string `json:"codeHash"`
	SumBalance  string `json:"sumBalance"` // total escrowed through order creation
	Outstanding string `json:"outstanding"`
}

// OrderInfo is one entry of an order log.
type OrderInfo struct {
	Position        uint32 `json:"position"`
	MirrorPosition  uint32 `json:"mirrorPosition"` // position in the other log
	FromAsset       string `json:"fromAsset"`
	ToAsset         string `json:"toAsset"`
	Creator         string `json:"creator"`
	Amount          string `json:"amount"`
	FilledAmount    string `json:"filledAmount"`
	Remaining       string `json:"remaining"`
	RequestedAmount string `json:"requestedAmount"`
	Fee             string `json:"fee"`
	Status          string `json:"status"` // "open" | "partially_filled" | "filled" | "cancelled"
	Height          uint64 `json:"height"`
	Timestamp       int64  `json:"timestamp"` // Unix seconds
}

type OrdersPage struct {
	Owner  string      `json:"owner"`
	Total  uint64      `json:"total"`
	Page   uint32      `json:"page"`
	Orders []OrderInfo `json:"orders"` // newest first
}

type BalanceInfo struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type NonceInfo struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"` // last executed; the next transaction must exceed it
}

// ChainStatus represents block production status
type ChainStatus struct {
	Height      uint64 `json:"height"`
	AppHash     string `json:"appHash"`
	BlockTime   int64  `json:"blockTime"` // Unix seconds of the head block
	MempoolSize int    `json:"mempoolSize"`
}

type BlockInfo struct {
	Height   uint64   `json:"height"`
	Hash     string   `json:"hash"`
	Parent   string   `json:"parent"`
	AppHash  string   `json:"appHash"`
	Time     int64    `json:"time"`
	Txs      []string `json:"txs"`
	Rejected int      `json:"rejected"`
}

// SubmitTxResponse is the response from transaction submission
type SubmitTxResponse struct {
	Status  string `json:"status"` // "submitted", "rejected"
	TxHash  string `json:"txHash"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"` // Error message if rejected
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["blocks", "orders:0x..."]
}

// BlockUpdate is broadcast on the "blocks" channel for every block.
type BlockUpdate struct {
	Type     string `json:"type"` // "block"
	Height   uint64 `json:"height"`
	AppHash  string `json:"appHash"`
	Txs      int    `json:"txs"`
	Rejected int    `json:"rejected"`
	Time     int64  `json:"time"`
}

// TxUpdate is broadcast on "orders:<address>" for every transaction that
// touched the address.
type TxUpdate struct {
	Type   string `json:"type"` // "tx"
	Height uint64 `json:"height"`
	TxHash string `json:"txHash"`
	TxType string `json:"txType"`
	Sender string `json:"sender"`
	Code   string `json:"code"`
	Log    string `json:"log,omitempty"`
}
