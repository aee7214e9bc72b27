package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/veilchain/veil/app"
	"github.com/veilchain/veil/state"
	"github.com/veilchain/veil/zkp"
)

func runStart(cfg *Config) error {
	log := newLogger(cfg.LogLevel)

	store, err := state.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	log.Info().Int("depth", cfg.TreeDepth).Msg("compiling circuits and running setup")
	zkp.SetLogger(log.With().Str("component", "solver").Logger())
	system, err := zkp.Setup(cfg.TreeDepth)
	if err != nil {
		return fmt.Errorf("circuit setup: %w", err)
	}

	node, err := app.New(cfg.AppConfig(), store, system, log)
	if err != nil {
		return err
	}

	if node.Fresh() {
		allocations, err := LoadGenesis(cfg.GenesisPath)
		if err != nil {
			return err
		}
		appHash, err := node.InitGenesis(context.Background(), allocations)
		if err != nil {
			return fmt.Errorf("init genesis: %w", err)
		}
		log.Info().Hex("app_hash", appHash).Int("allocations", len(allocations)).Msg("genesis committed")
	}

	srv := &server{node: node, log: log.With().Str("component", "server").Logger()}
	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("serving consensus lifecycle")
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

// server exposes the block lifecycle and read-only queries over local HTTP.
// The consensus engine is the only intended client of the lifecycle routes
// and is trusted to call them in order; out-of-order calls get a lifecycle
// error back rather than corrupting state.
type server struct {
	node *app.App
	log  zerolog.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/check_tx", s.handleCheckTx)
	mux.HandleFunc("/begin_block", s.handleBeginBlock)
	mux.HandleFunc("/deliver_tx", s.handleDeliverTx)
	mux.HandleFunc("/end_block", s.handleEndBlock)
	mux.HandleFunc("/commit", s.handleCommit)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/anchors", s.handleAnchors)
	mux.HandleFunc("/witness", s.handleWitness)
	mux.HandleFunc("/nullifier", s.handleNullifier)
	return mux
}

type txRequest struct {
	Tx      string `json:"tx"`
	Recheck bool   `json:"recheck,omitempty"`
}

type txResponse struct {
	Code uint32 `json:"code"`
	Log  string `json:"log,omitempty"`
}

type heightRequest struct {
	Height uint64 `json:"height"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.node.Halted() {
		status = "halted"
	}
	writeJSON(w, map[string]string{"status": status})
}

func (s *server) handleCheckTx(w http.ResponseWriter, r *http.Request) {
	var req txRequest
	if !readJSON(w, r, &req) {
		return
	}
	raw, err := hex.DecodeString(req.Tx)
	if err != nil {
		httpError(w, http.StatusBadRequest, "tx is not valid hex")
		return
	}
	kind := app.CheckTxNew
	if req.Recheck {
		kind = app.CheckTxRecheck
	}
	res := s.node.CheckTx(raw, kind)
	writeJSON(w, txResponse{Code: res.Code, Log: res.Log})
}

func (s *server) handleBeginBlock(w http.ResponseWriter, r *http.Request) {
	var req heightRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.node.BeginBlock(req.Height); err != nil {
		httpError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *server) handleDeliverTx(w http.ResponseWriter, r *http.Request) {
	var req txRequest
	if !readJSON(w, r, &req) {
		return
	}
	raw, err := hex.DecodeString(req.Tx)
	if err != nil {
		httpError(w, http.StatusBadRequest, "tx is not valid hex")
		return
	}
	res := s.node.DeliverTx(raw)
	writeJSON(w, txResponse{Code: res.Code, Log: res.Log})
}

func (s *server) handleEndBlock(w http.ResponseWriter, r *http.Request) {
	var req heightRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.node.EndBlock(req.Height); err != nil {
		httpError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *server) handleCommit(w http.ResponseWriter, r *http.Request) {
	appHash, err := s.node.Commit(r.Context())
	if err != nil {
		httpError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]string{"app_hash": hex.EncodeToString(appHash)})
}

func (s *server) handleState(w http.ResponseWriter, r *http.Request) {
	st := s.node.State()
	writeJSON(w, map[string]interface{}{
		"height":     st.Height,
		"root":       hex.EncodeToString(st.Root),
		"app_hash":   hex.EncodeToString(st.AppHash),
		"nullifiers": st.Nullifiers,
	})
}

func (s *server) handleAnchors(w http.ResponseWriter, r *http.Request) {
	roots := s.node.Anchors()
	out := make([]string, len(roots))
	for i, root := range roots {
		out[i] = hex.EncodeToString(root)
	}
	writeJSON(w, map[string]interface{}{"anchors": out})
}

func (s *server) handleWitness(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(r.URL.Query().Get("index"), 10, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "index query parameter required")
		return
	}
	path, err := s.node.Witness(index)
	if err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}
	out := make([]string, len(path))
	for i, sib := range path {
		out[i] = hex.EncodeToString(sib)
	}
	writeJSON(w, map[string]interface{}{"index": index, "path": out})
}

func (s *server) handleNullifier(w http.ResponseWriter, r *http.Request) {
	nf, err := hex.DecodeString(r.URL.Query().Get("nf"))
	if err != nil || len(nf) == 0 {
		httpError(w, http.StatusBadRequest, "nf query parameter required")
		return
	}
	spent, err := s.node.HasNullifier(nf)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"spent": spent})
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
