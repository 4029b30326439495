package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mart1n-xyz/gobetme/core/events"
	"github.com/mart1n-xyz/gobetme/core/ledger"
	"github.com/mart1n-xyz/gobetme/native/campaign"
	"github.com/mart1n-xyz/gobetme/observability/metrics"
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
	codeNotFound       = -32004
	codeConflict       = -32009
)

// Server exposes the campaign engine and ledger over JSON-RPC.
type Server struct {
	engine   *campaign.Engine
	vault    *ledger.Vault
	recorder *events.Recorder

	authToken string
	log       *slog.Logger
}

// NewServer wires the RPC surface. The recorder must be the emitter
// configured on the engine so handler responses can return the events of the
// action that produced them; it may be nil.
func NewServer(engine *campaign.Engine, vault *ledger.Vault, recorder *events.Recorder, authToken string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:    engine,
		vault:     vault,
		recorder:  recorder,
		authToken: strings.TrimSpace(authToken),
		log:       log,
	}
}

// Router returns the HTTP routes: JSON-RPC at /, liveness at /healthz and
// prometheus metrics at /metrics.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
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
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type authError struct {
	Code    int
	Message string
	Data    interface{}
}

// requireAuth enforces the bearer token on mutating methods. An empty
// configured token disables the check.
func (s *Server) requireAuth(r *http.Request) *authError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &authError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing bearer token"}
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
		return &authError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid bearer token"}
	}
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "unsupported jsonrpc version")
		return
	}
	metrics.Campaign().ObserveRPCRequest(req.Method)
	s.log.Info("rpc request", "method", req.Method, "id", req.ID)
	switch req.Method {
	case "campaign_create":
		s.handleCampaignCreate(w, r, &req)
	case "campaign_donate":
		s.handleCampaignDonate(w, r, &req)
	case "campaign_placeBet":
		s.handleCampaignPlaceBet(w, r, &req)
	case "campaign_checkTotals":
		s.handleCampaignCheckTotals(w, r, &req)
	case "campaign_settle":
		s.handleCampaignSettle(w, r, &req)
	case "campaign_claim":
		s.handleCampaignClaim(w, r, &req)
	case "campaign_withdraw":
		s.handleCampaignWithdraw(w, r, &req)
	case "campaign_get":
		s.handleCampaignGet(w, r, &req)
	case "campaign_position":
		s.handleCampaignPosition(w, r, &req)
	case "campaign_progress":
		s.handleCampaignProgress(w, r, &req)
	case "campaign_list":
		s.handleCampaignList(w, r, &req)
	case "ledger_credit":
		s.handleLedgerCredit(w, r, &req)
	case "ledger_balance":
		s.handleLedgerBalance(w, r, &req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", req.Method)
	}
}
