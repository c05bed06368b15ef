// Package rpc exposes the marketplace over JSON-RPC: the public trading
// surface, a JWT-gated admin surface, a websocket event stream and
// Prometheus metrics.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"nftmarket/core"
	"nftmarket/native/common"
	"nftmarket/native/market"
	"nftmarket/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// ServerOptions tune the RPC surface.
type ServerOptions struct {
	// JWTSecretEnv names the environment variable holding the admin JWT
	// signing secret. Admin methods are disabled when it is empty or unset.
	JWTSecretEnv string
	// RatePerSecond and RateBurst bound per-client request admission.
	RatePerSecond float64
	RateBurst     int
}

// Server dispatches JSON-RPC requests to the node.
type Server struct {
	node    *core.Node
	metrics *observability.Metrics

	jwtSecret []byte

	limitPerSecond float64
	limitBurst     int
	mu             sync.Mutex
	limiters       map[string]*rate.Limiter
}

// NewServer builds a server for the given node.
func NewServer(node *core.Node, metrics *observability.Metrics, opts ServerOptions) *Server {
	var secret []byte
	if env := strings.TrimSpace(opts.JWTSecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			secret = []byte(value)
		}
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 50
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 100
	}
	return &Server{
		node:           node,
		metrics:        metrics,
		jwtSecret:      secret,
		limitPerSecond: opts.RatePerSecond,
		limitBurst:     opts.RateBurst,
		limiters:       make(map[string]*rate.Limiter),
	}
}

// Router returns the HTTP routing table: JSON-RPC at the root, health,
// metrics and the websocket event stream alongside.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleEventsWS)
	return r
}

// Start serves the router on addr and blocks.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) limiterFor(source string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.limitPerSecond), s.limitBurst)
		s.limiters[source] = limiter
	}
	return limiter
}

func clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	source := clientSource(r)
	if !s.limiterFor(source).Allow() {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "request rate limit exceeded", source)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "failed to read request body", nil)
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request body too large", nil)
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", nil)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method is required", nil)
		return
	}

	start := time.Now()
	s.dispatch(w, r, &req)
	if s.metrics != nil {
		s.metrics.ObserveRPC(req.Method, time.Since(start))
	}
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "market_listNFT":
		s.handleListNFT(w, req)
	case "market_buyNFT":
		s.handleBuyNFT(w, req)
	case "market_placeBid":
		s.handlePlaceBid(w, req)
	case "market_finalizeAuction":
		s.handleFinalizeAuction(w, req)
	case "market_withdrawNFT":
		s.handleWithdrawNFT(w, req)
	case "market_getListing":
		s.handleGetListing(w, req)
	case "market_listListings":
		s.handleListListings(w, req)
	case "market_listingCounter":
		s.handleListingCounter(w, req)
	case "market_getBalance":
		s.handleGetBalance(w, req)
	case "market_getFeePolicy":
		s.handleGetFeePolicy(w, req)
	case "market_setBuyerFee":
		s.handleSetBuyerFee(w, r, req)
	case "market_setSellerFee":
		s.handleSetSellerFee(w, r, req)
	case "market_setBlacklist":
		s.handleSetBlacklist(w, r, req)
	case "market_isBlacklisted":
		s.handleIsBlacklisted(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

// engineError maps engine failures onto RPC error codes. Validation and
// state-machine rejections are invalid params; anything else is a server
// error.
func engineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, market.ErrListingNotFound):
		writeError(w, http.StatusNotFound, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, common.ErrBlacklisted),
		errors.Is(err, market.ErrNotAdmin),
		errors.Is(err, market.ErrNotSeller):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, market.ErrInvalidPrice),
		errors.Is(err, market.ErrInvalidDuration),
		errors.Is(err, market.ErrInvalidQuantity),
		errors.Is(err, market.ErrQuantityNotOne),
		errors.Is(err, market.ErrInvalidSaleType),
		errors.Is(err, market.ErrUnsupportedAsset),
		errors.Is(err, market.ErrUnsupportedToken),
		errors.Is(err, market.ErrNotFixedPrice),
		errors.Is(err, market.ErrNotAuction),
		errors.Is(err, market.ErrAlreadySold),
		errors.Is(err, market.ErrWithdrawn),
		errors.Is(err, market.ErrIncorrectAmount),
		errors.Is(err, market.ErrZeroBid),
		errors.Is(err, market.ErrBidTooLow),
		errors.Is(err, market.ErrAuctionEnded),
		errors.Is(err, market.ErrAuctionNotEnded),
		errors.Is(err, market.ErrNoBids):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one params object")
	}
	return json.Unmarshal(req.Params[0], out)
}
