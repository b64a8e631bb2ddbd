package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/spacemonkeygo/monkit/v3/present"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowd/pkg/abci"
	"github.com/uhyunpark/escrowd/pkg/chain"
	"github.com/uhyunpark/escrowd/pkg/escrow"
	"github.com/uhyunpark/escrowd/pkg/escrowerr"
	"github.com/uhyunpark/escrowd/pkg/ledger"
	"github.com/uhyunpark/escrowd/pkg/mempool"
	"github.com/uhyunpark/escrowd/pkg/registry"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxTxBytes      = 1 << 20
)

// Backend is the application surface the API reads and submits to.
type Backend interface {
	PushTx(raw []byte) (common.Hash, error)
	Config() (*escrow.Config, error)
	Tokens() ([]*registry.Token, error)
	Orders(owner common.Address, key string, page, pageSize uint32) ([]*ledger.Order, uint64, error)
	Balance(asset, owner common.Address, key string) (*uint256.Int, error)
	Nonce(account common.Address) (uint64, error)
	PendingTxs() int
}

// ChainView exposes produced blocks.
type ChainView interface {
	Head() chain.Header
	Block(height uint64) (*chain.Header, error)
}

// Server handles REST API and WebSocket connections
type Server struct {
	backend Backend
	chain   ChainView
	router  *mux.Router
	hub     *Hub
	origins []string
	logger  *zap.SugaredLogger
	srv     *http.Server
}

// NewServer creates a new API server
func NewServer(backend Backend, chainView ChainView, allowedOrigins []string, logger *zap.SugaredLogger) *Server {
	s := &Server{
		backend: backend,
		chain:   chainView,
		router:  mux.NewRouter(),
		hub:     NewHub(logger.Named("ws")),
		origins: allowedOrigins,
		logger:  logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestID)

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Escrow endpoints
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances/{asset}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/accounts/{address}/nonce", s.handleGetNonce).Methods("GET")

	// Chain endpoints
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")
	api.HandleFunc("/chain/blocks/{height}", s.handleGetBlock).Methods("GET")

	// Transaction submission
	api.HandleFunc("/txs", s.handleSubmitTx).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.PathPrefix("/debug/metrics/").Handler(http.StripPrefix("/debug/metrics", present.HTTP(monkit.Default)))
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Viewing-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infow("api_listening", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

type ctxKey struct{}

// requestID tags every request with an ID, echoed in X-Request-ID.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
		s.logger.Debugw("http_request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.backend.Config()
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	fillers := make([]string, len(cfg.Fillers))
	for i, f := range cfg.Fillers {
		fillers[i] = f.Hex()
	}
	respondJSON(w, ConfigInfo{
		Admin:        cfg.Admin.Hex(),
		Self:         cfg.Self.Hex(),
		Loyalty:      cfg.Loyalty.Hex(),
		CodeHash:     cfg.CodeHash,
		Fillers:      fillers,
		FeeRecipient: cfg.FeeRecipient.Hex(),
		ExecutionFee: cfg.ExecutionFee.Dec(),
	})
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.backend.Tokens()
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	response := make([]TokenInfo, len(tokens))
	for i, t := range tokens {
		response[i] = TokenInfo{
			Address:     t.Address.Hex(),
			CodeHash:    t.CodeHash,
			SumBalance:  t.SumBalance.Dec(),
			Outstanding: t.Outstanding.Dec(),
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	page, err := queryUint32(r, "page", 0)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid page", err.Error())
		return
	}
	size, err := queryUint32(r, "page_size", defaultPageSize)
	if err != nil || size == 0 || size > maxPageSize {
		respondError(w, r, http.StatusBadRequest, "invalid page_size", fmt.Sprintf("must be 1..%d", maxPageSize))
		return
	}

	orders, total, err := s.backend.Orders(owner, viewingKey(r), page, size)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	response := OrdersPage{Owner: owner.Hex(), Total: total, Page: page, Orders: make([]OrderInfo, 0, len(orders))}
	for _, o := range orders {
		info, err := orderInfo(o)
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		response.Orders = append(response.Orders, info)
	}
	respondJSON(w, response)
}

func orderInfo(o *ledger.Order) (OrderInfo, error) {
	remaining, err := o.Remaining()
	if err != nil {
		return OrderInfo{}, err
	}
	return OrderInfo{
		Position:        o.Position,
		MirrorPosition:  o.MirrorPosition,
		FromAsset:       o.FromAsset.Hex(),
		ToAsset:         o.ToAsset.Hex(),
		Creator:         o.Creator.Hex(),
		Amount:          o.Amount.Dec(),
		FilledAmount:    o.FilledAmount.Dec(),
		Remaining:       remaining.Dec(),
		RequestedAmount: o.RequestedAmount.Dec(),
		Fee:             o.Fee.Dec(),
		Status:          string(o.Status()),
		Height:          o.CreatedAtHeight,
		Timestamp:       o.CreatedAtTime,
	}, nil
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	asset, ok := pathAddress(w, r, "asset")
	if !ok {
		return
	}
	bal, err := s.backend.Balance(asset, owner, viewingKey(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, BalanceInfo{Address: owner.Hex(), Asset: asset.Hex(), Amount: bal.Dec()})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	nonce, err := s.backend.Nonce(addr)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, NonceInfo{Address: addr.Hex(), Nonce: nonce})
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	head := s.chain.Head()
	respondJSON(w, ChainStatus{
		Height:      head.Height,
		AppHash:     head.AppHash.Hex(),
		BlockTime:   head.Time,
		MempoolSize: s.backend.PendingTxs(),
	})
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid height", err.Error())
		return
	}
	hdr, err := s.chain.Block(height)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if hdr == nil {
		respondError(w, r, http.StatusNotFound, "block not found", "")
		return
	}
	txs := make([]string, len(hdr.Txs))
	for i, h := range hdr.Txs {
		txs[i] = h.Hex()
	}
	respondJSON(w, BlockInfo{
		Height:   hdr.Height,
		Hash:     hdr.Hash().Hex(),
		Parent:   hdr.Parent.Hex(),
		AppHash:  hdr.AppHash.Hex(),
		Time:     hdr.Time,
		Txs:      txs,
		Rejected: hdr.Rejected,
	})
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBytes+1))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	if len(body) > maxTxBytes {
		respondError(w, r, http.StatusRequestEntityTooLarge, "transaction too large", "")
		return
	}

	hash, err := s.backend.PushTx(body)
	if err != nil {
		status, code := statusOf(err), escrowerr.Code(err)
		if errors.Is(err, mempool.ErrFull) {
			status, code = http.StatusServiceUnavailable, "mempool_full"
		}
		s.logger.Infow("tx_refused", "request_id", requestIDFrom(r), "tx", hash.Hex(), "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(SubmitTxResponse{
			Status:  "rejected",
			TxHash:  hash.Hex(),
			Code:    code,
			Message: err.Error(),
		})
		return
	}

	s.logger.Infow("tx_submitted", "request_id", requestIDFrom(r), "tx", hash.Hex(), "bytes", len(body))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(SubmitTxResponse{Status: "submitted", TxHash: hash.Hex()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called from the block producer)
// ==============================

// OnBlockCommit pushes the block to "blocks" subscribers and each
// transaction result to the "orders:<address>" channel of every account it
// touched.
func (s *Server) OnBlockCommit(hdr chain.Header, resp abci.ResponseFinalizeBlock) {
	s.hub.BroadcastToChannel("blocks", BlockUpdate{
		Type:     "block",
		Height:   hdr.Height,
		AppHash:  hdr.AppHash.Hex(),
		Txs:      len(hdr.Txs),
		Rejected: hdr.Rejected,
		Time:     hdr.Time,
	})
	for _, res := range resp.TxResults {
		update := TxUpdate{
			Type:   "tx",
			Height: hdr.Height,
			TxHash: res.Hash.Hex(),
			TxType: res.Type,
			Sender: res.Sender.Hex(),
			Code:   res.Code,
			Log:    res.Log,
		}
		for _, addr := range res.Touched {
			s.hub.BroadcastToChannel(OrdersChannel(addr), update)
		}
	}
}

// OrdersChannel names the channel carrying addr's transaction results.
func OrdersChannel(addr common.Address) string {
	return "orders:" + addr.Hex()
}

// ==============================
// Helper Functions
// ==============================

func pathAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	s := mux.Vars(r)[name]
	if !common.IsHexAddress(s) {
		respondError(w, r, http.StatusBadRequest, "invalid "+name, s)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func queryUint32(r *http.Request, name string, def uint32) (uint32, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	return uint32(n), err
}

// viewingKey reads the key from the X-Viewing-Key header, falling back to the
// "key" query parameter.
func viewingKey(r *http.Request) string {
	if k := r.Header.Get("X-Viewing-Key"); k != "" {
		return k
	}
	return r.URL.Query().Get("key")
}

func statusOf(err error) int {
	switch escrowerr.Code(err) {
	case "unauthorized":
		return http.StatusForbidden
	case "not_found", "unregistered_asset":
		return http.StatusNotFound
	case "not_initialized":
		return http.StatusServiceUnavailable
	case "internal":
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Errorw("request_failed", "request_id", requestIDFrom(r), "path", r.URL.Path, "error", err)
	}
	respondError(w, r, status, escrowerr.Code(err), err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:     error,
		Message:   message,
		RequestID: requestIDFrom(r),
	})
}
