// internal/api/server.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"squadlet-go/internal/ledger"
	"squadlet-go/internal/multisig"
)

// Server exposes the multisig program operations over HTTP. It is a
// custodial surface: callers identify signing keys in request bodies
// and the server attests them to the engine. Anything needing real
// signature verification belongs in front of this service.
type Server struct {
	router *mux.Router
	logger *zap.Logger
	store  ledger.Store
	engine *multisig.Program
}

func NewServer(engine *multisig.Program, store ledger.Store, logger *zap.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: logger,
		store:  store,
		engine: engine,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.logRequests)

	// registry
	r.HandleFunc("/v1/multisig", s.CreateMultisig).Methods("POST")
	r.HandleFunc("/v1/multisig/{address}", s.GetMultisig).Methods("GET")
	r.HandleFunc("/v1/multisig/{address}/authority/{index}", s.GetAuthority).Methods("GET")
	r.HandleFunc("/v1/multisig/{address}/builders/{op}", s.BuildGovernanceInstruction).Methods("POST")
	r.HandleFunc("/v1/multisig/{address}/transactions", s.CreateTransaction).Methods("POST")

	// transaction lifecycle
	r.HandleFunc("/v1/transactions/{address}", s.GetTransaction).Methods("GET")
	r.HandleFunc("/v1/transactions/{address}/instructions", s.AddInstruction).Methods("POST")
	r.HandleFunc("/v1/transactions/{address}/instructions/{index}", s.GetInstruction).Methods("GET")
	r.HandleFunc("/v1/transactions/{address}/activate", s.ActivateTransaction).Methods("POST")
	r.HandleFunc("/v1/transactions/{address}/approve", s.ApproveTransaction).Methods("POST")
	r.HandleFunc("/v1/transactions/{address}/reject", s.RejectTransaction).Methods("POST")
	r.HandleFunc("/v1/transactions/{address}/cancel", s.CancelTransaction).Methods("POST")
	r.HandleFunc("/v1/transactions/{address}/execute", s.ExecuteTransaction).Methods("POST")
	r.HandleFunc("/v1/transactions/{address}/execute-next", s.ExecuteInstruction).Methods("POST")

	// dev conveniences
	r.HandleFunc("/v1/accounts/{address}", s.GetAccount).Methods("GET")
	r.HandleFunc("/v1/accounts/{address}/airdrop", s.Airdrop).Methods("POST")
}

func (s *Server) Router() http.Handler {
	return s.router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the program's error kinds onto HTTP statuses so
// integrators can branch without parsing messages.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		status = http.StatusNotFound
	case errors.Is(err, multisig.ErrUnauthorized),
		errors.Is(err, multisig.ErrKeyNotInMultisig):
		status = http.StatusForbidden
	case errors.Is(err, multisig.ErrInvalidTransactionState),
		errors.Is(err, multisig.ErrDeprecatedTransaction),
		errors.Is(err, multisig.ErrPartialExecution),
		errors.Is(err, multisig.ErrReentrantCall),
		errors.Is(err, multisig.ErrIndexExhausted),
		errors.Is(err, multisig.ErrCannotRemoveSoloMember):
		status = http.StatusConflict
	case errors.Is(err, multisig.ErrNotEnoughLamports):
		status = http.StatusPaymentRequired
	case errors.Is(err, multisig.ErrInvalidThreshold),
		errors.Is(err, multisig.ErrEmptyMembers),
		errors.Is(err, multisig.ErrMaxMembersReached),
		errors.Is(err, multisig.ErrInvalidAuthorityIndex),
		errors.Is(err, multisig.ErrInvalidInstructionAccount),
		errors.Is(err, multisig.ErrInvalidNumberOfAccounts),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
