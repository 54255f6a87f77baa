// Package api exposes the oracle's admin commands and ledger queries over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"swapOracle/internal/decoder"
	"swapOracle/internal/ledger"
	"swapOracle/internal/metrics"
	"swapOracle/internal/model"
	"swapOracle/internal/oracle"
)

// Local ledger amounts carry 15 decimals.
const amountExponent = -15

// Admin issues privileged commands.
type Admin interface {
	Kickoff(ctx context.Context, caller string, job model.FetchJob) error
	Killall(ctx context.Context, caller string) error
}

// Swaps answers ledger queries.
type Swaps interface {
	State(ctx context.Context, id model.Hash) (model.SwapState, error)
	Record(ctx context.Context, id model.Hash) (model.SwapRecord, bool, error)
	SwapCount(ctx context.Context) (uint64, error)
	IsClaimable(ctx context.Context, id model.Hash, currentHeight uint64) (bool, error)
}

// Heights reads the local height.
type Heights interface {
	LocalHeight(ctx context.Context) (uint64, error)
}

// Identities resolves receiver identities to local accounts.
type Identities interface {
	ResolveIdentity(ctx context.Context, identity model.Hash) (string, bool, error)
}

// Deps holds the server dependencies. Admin, Identities and Metrics may be
// nil; the admin routes are only mounted when Admin is set.
type Deps struct {
	Admin      Admin
	Swaps      Swaps
	Heights    Heights
	Identities Identities
	Metrics    *metrics.Metrics
	Logger     *zap.Logger

	// AdminMaxSkew bounds the age of a signed admin request.
	AdminMaxSkew time.Duration
	// Now overrides the clock used for admin signatures.
	Now func() time.Time
}

// Server serves the oracle HTTP API.
type Server struct {
	deps   Deps
	auth   *signatureAuth
	logger *zap.Logger
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		deps:   deps,
		auth:   newSignatureAuth(deps.AdminMaxSkew, deps.Now),
		logger: logger,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.deps.Admin != nil {
		r.HandleFunc("/admin/kickoff", s.handleKickoff).Methods(http.MethodPost)
		r.HandleFunc("/admin/killall", s.handleKillall).Methods(http.MethodPost)
	}
	r.HandleFunc("/swaps/{id}", s.handleSwap).Methods(http.MethodGet)
	r.HandleFunc("/swaps/{id}/claimable", s.handleClaimable).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/identity/{descriptor}", s.handleIdentity).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

// ListenAndServe serves the API on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown api: %w", err)
		}
		return nil
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type kickoffRequest struct {
	Kind    model.SourceKind  `json:"kind"`
	URL     string            `json:"url"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type swapResponse struct {
	SwapID      model.Hash        `json:"swap_id"`
	State       model.SwapState   `json:"state"`
	Record      *model.SwapRecord `json:"record,omitempty"`
	Amount      string            `json:"amount,omitempty"`
	ExpiresAt   uint64            `json:"expires_at,omitempty"`
	LocalHeight uint64            `json:"local_height"`
	Claimable   bool              `json:"claimable"`
}

type claimableResponse struct {
	SwapID    model.Hash `json:"swap_id"`
	Height    uint64     `json:"height"`
	Claimable bool       `json:"claimable"`
}

type statsResponse struct {
	SwapCount   uint64 `json:"swap_count"`
	LocalHeight uint64 `json:"local_height"`
}

type identityResponse struct {
	Descriptor string     `json:"descriptor"`
	ChainTag   string     `json:"chain_tag"`
	TypeTag    string     `json:"type_tag"`
	Identity   model.Hash `json:"identity"`
	Account    string     `json:"account,omitempty"`
	Registered bool       `json:"registered"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleKickoff(w http.ResponseWriter, r *http.Request) {
	caller, body, err := s.auth.caller(r, 1<<20)
	if err != nil {
		s.respondError(w, "kickoff", err)
		return
	}

	var req kickoffRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("decode request: %v", err)})
		return
	}
	job := model.FetchJob{Kind: req.Kind, URL: req.URL, Headers: req.Headers}
	if req.Body != "" {
		job.Body = []byte(req.Body)
	}
	if err := job.Validate(); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := s.deps.Admin.Kickoff(r.Context(), caller, job); err != nil {
		s.respondError(w, "kickoff", err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleKillall(w http.ResponseWriter, r *http.Request) {
	caller, _, err := s.auth.caller(r, 1<<20)
	if err != nil {
		s.respondError(w, "killall", err)
		return
	}
	if err := s.deps.Admin.Killall(r.Context(), caller); err != nil {
		s.respondError(w, "killall", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	id, err := parseSwapID(mux.Vars(r)["id"])
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	ctx := r.Context()

	state, err := s.deps.Swaps.State(ctx, id)
	if err != nil {
		s.respondError(w, "load state", err)
		return
	}
	if state == model.SwapInvalid {
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "unknown swap id"})
		return
	}
	height, err := s.deps.Heights.LocalHeight(ctx)
	if err != nil {
		s.respondError(w, "load height", err)
		return
	}

	resp := swapResponse{SwapID: id, State: state, LocalHeight: height}
	record, ok, err := s.deps.Swaps.Record(ctx, id)
	if err != nil {
		s.respondError(w, "load record", err)
		return
	}
	if ok {
		resp.Record = &record
		resp.Amount = FormatAmount(record.OutAmount)
		resp.ExpiresAt = record.ExpiresAt()
		resp.Claimable = state == model.SwapOpen && height < record.ExpiresAt()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClaimable(w http.ResponseWriter, r *http.Request) {
	id, err := parseSwapID(mux.Vars(r)["id"])
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	ctx := r.Context()

	var height uint64
	if raw := r.URL.Query().Get("height"); raw != "" {
		height, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid height %q", raw)})
			return
		}
	} else {
		height, err = s.deps.Heights.LocalHeight(ctx)
		if err != nil {
			s.respondError(w, "load height", err)
			return
		}
	}

	claimable, err := s.deps.Swaps.IsClaimable(ctx, id, height)
	if err != nil {
		s.respondError(w, "claimable", err)
		return
	}
	respondJSON(w, http.StatusOK, claimableResponse{SwapID: id, Height: height, Claimable: claimable})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	count, err := s.deps.Swaps.SwapCount(ctx)
	if err != nil {
		s.respondError(w, "swap count", err)
		return
	}
	height, err := s.deps.Heights.LocalHeight(ctx)
	if err != nil {
		s.respondError(w, "load height", err)
		return
	}
	respondJSON(w, http.StatusOK, statsResponse{SwapCount: count, LocalHeight: height})
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["descriptor"]
	desc, err := decoder.ParseReceiverDescriptor(raw)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	resp := identityResponse{
		Descriptor: raw,
		ChainTag:   desc.ChainTag,
		TypeTag:    desc.TypeTag,
		Identity:   desc.Identity(),
	}
	if s.deps.Identities != nil {
		account, ok, err := s.deps.Identities.ResolveIdentity(r.Context(), resp.Identity)
		if err != nil {
			s.respondError(w, "resolve identity", err)
			return
		}
		resp.Account, resp.Registered = account, ok
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, oracle.ErrNotAuthority), errors.Is(err, errUnauthenticated):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrNotInitialized):
		status = http.StatusConflict
	case errors.Is(err, model.ErrInvalidSourceKind):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("api request failed", zap.String("op", op), zap.Error(err))
	}
	respondJSON(w, status, errorResponse{Error: err.Error()})
}

// respondJSON makes the response with payload as json format
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

func parseSwapID(raw string) (model.Hash, error) {
	b, err := hexutil.Decode(raw)
	if err != nil {
		return model.Hash{}, fmt.Errorf("invalid swap id %q: %v", raw, err)
	}
	if len(b) != common.HashLength {
		return model.Hash{}, fmt.Errorf("invalid swap id %q: want %d bytes", raw, common.HashLength)
	}
	return common.BytesToHash(b), nil
}

// FormatAmount renders a local ledger amount as a decimal string.
func FormatAmount(amount uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), amountExponent).String()
}
