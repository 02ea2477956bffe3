package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"nostr-accountd/internal/accounts"
	"nostr-accountd/internal/nwc"
	"nostr-accountd/internal/profile"
	"nostr-accountd/internal/relaylist"
)

// Server exposes the account core as a local JSON command surface for the
// desktop UI. Every command is a POST with a JSON body.
type Server struct {
	accounts *accounts.Service
	relays   *relaylist.Synchronizer
	profile  *profile.Publisher
	wallet   *nwc.Service
}

// NewServer wires the command handlers
func NewServer(accountsSvc *accounts.Service, relaysSvc *relaylist.Synchronizer, profileSvc *profile.Publisher, walletSvc *nwc.Service) *Server {
	return &Server{
		accounts: accountsSvc,
		relays:   relaysSvc,
		profile:  profileSvc,
		wallet:   walletSvc,
	}
}

// Routes registers all command endpoints on the mux
func (s *Server) Routes(mux *http.ServeMux) {
	commands := map[string]http.HandlerFunc{
		"/commands/create_identity":                  s.handleCreateIdentity,
		"/commands/login":                            s.handleLogin,
		"/commands/logout":                           s.handleLogout,
		"/commands/get_accounts":                     s.handleGetAccounts,
		"/commands/remove_account":                   s.handleRemoveAccount,
		"/commands/set_active_account":               s.handleSetActiveAccount,
		"/commands/update_account_onboarding":        s.handleUpdateOnboarding,
		"/commands/fetch_relays_list":                s.handleFetchRelaysList,
		"/commands/publish_relays_list":              s.handlePublishRelaysList,
		"/commands/publish_metadata_event":           s.handlePublishMetadata,
		"/commands/set_nostr_wallet_connect_uri":     s.handleSetWalletURI,
		"/commands/remove_nostr_wallet_connect_uri":  s.handleRemoveWalletURI,
		"/commands/has_nostr_wallet_connect_uri":     s.handleHasWalletURI,
		"/commands/get_nostr_wallet_connect_balance": s.handleGetBalance,
		"/commands/get_wallet_connect_qr":            s.handleWalletQR,
	}
	for path, handler := range commands {
		mux.HandleFunc(path, limitBody(handler, maxBodySize))
	}
	mux.HandleFunc("/health", healthHandler)
}

type pubKeyRequest struct {
	PubKey string `json:"pubkey"`
}

func (s *Server) handleCreateIdentity(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	view, err := s.accounts.CreateIdentity(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SecretKey string `json:"secret_key"`
	}
	if !decodeCommand(w, r, &req) {
		return
	}
	if req.SecretKey == "" {
		writeErrorKind(w, http.StatusBadRequest, "invalid_request", "secret_key is required")
		return
	}

	view, err := s.accounts.Login(req.SecretKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req pubKeyRequest
	if !decodeCommand(w, r, &req) {
		return
	}

	if err := s.accounts.Logout(req.PubKey); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleGetAccounts(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	views, err := s.accounts.GetAccounts()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": views})
}

func (s *Server) handleRemoveAccount(w http.ResponseWriter, r *http.Request) {
	var req pubKeyRequest
	if !decodeCommand(w, r, &req) {
		return
	}

	if err := s.accounts.RemoveAccount(req.PubKey); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleSetActiveAccount(w http.ResponseWriter, r *http.Request) {
	var req pubKeyRequest
	if !decodeCommand(w, r, &req) {
		return
	}

	if err := s.accounts.SetActiveAccount(req.PubKey); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleUpdateOnboarding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PubKey string `json:"pubkey"`
		Step   string `json:"step"`
	}
	if !decodeCommand(w, r, &req) {
		return
	}
	if req.Step == "" {
		writeErrorKind(w, http.StatusBadRequest, "invalid_request", "step is required")
		return
	}

	if err := s.accounts.UpdateOnboarding(req.PubKey, req.Step); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleFetchRelaysList(w http.ResponseWriter, r *http.Request) {
	var req pubKeyRequest
	if !decodeCommand(w, r, &req) {
		return
	}

	relays, err := s.relays.FetchRelaysList(r.Context(), req.PubKey)
	if err != nil {
		writeError(w, err)
		return
	}
	if relays == nil {
		relays = []accounts.RelayEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"relays": relays})
}

func (s *Server) handlePublishRelaysList(w http.ResponseWriter, r *http.Request) {
	var req pubKeyRequest
	if !decodeCommand(w, r, &req) {
		return
	}

	report, err := s.relays.PublishRelayList(r.Context(), req.PubKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handlePublishMetadata(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PubKey string            `json:"pubkey"`
		Fields map[string]string `json:"fields"`
	}
	if !decodeCommand(w, r, &req) {
		return
	}

	report, err := s.profile.Publish(r.Context(), req.PubKey, req.Fields)
	if err != nil {
		// Partial-failure detail rides along even on the error path
		if errors.Is(err, profile.ErrNoRelayAccepted) {
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":  errorBody{Kind: "no_relay_accepted", Message: err.Error()},
				"report": report,
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSetWalletURI(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PubKey string `json:"pubkey"`
		URI    string `json:"uri"`
	}
	if !decodeCommand(w, r, &req) {
		return
	}
	if req.URI == "" {
		writeErrorKind(w, http.StatusBadRequest, "invalid_request", "uri is required")
		return
	}

	if err := s.wallet.SetURI(req.PubKey, req.URI); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleRemoveWalletURI(w http.ResponseWriter, r *http.Request) {
	var req pubKeyRequest
	if !decodeCommand(w, r, &req) {
		return
	}

	if err := s.wallet.RemoveURI(req.PubKey); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleHasWalletURI(w http.ResponseWriter, r *http.Request) {
	var req pubKeyRequest
	if !decodeCommand(w, r, &req) {
		return
	}

	has, err := s.wallet.HasURI(req.PubKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"has_uri": has})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PubKey string `json:"pubkey"`
		Cached bool   `json:"cached"`
	}
	if !decodeCommand(w, r, &req) {
		return
	}

	if req.Cached {
		balance, ok, err := s.wallet.CachedBalance(r.Context(), req.PubKey)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			writeErrorKind(w, http.StatusNotFound, "no_balance_snapshot", "no cached balance for this account")
			return
		}
		writeJSON(w, http.StatusOK, balance)
		return
	}

	balance, err := s.wallet.GetBalance(r.Context(), req.PubKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleWalletQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PubKey string `json:"pubkey"`
		Size   int    `json:"size"`
	}
	if !decodeCommand(w, r, &req) {
		return
	}

	png, err := s.wallet.ConnectionQR(req.PubKey, req.Size)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// --- request/response plumbing ---

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeErrorKind(w, http.StatusMethodNotAllowed, "invalid_request", "commands are POST only")
		return false
	}
	return true
}

// decodeCommand enforces POST and parses the JSON body into dst. Commands
// with a pubkey field require it to be present.
func decodeCommand(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if !requirePost(w, r) {
		return false
	}

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrorKind(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}

	if req, ok := dst.(*pubKeyRequest); ok && req.PubKey == "" {
		writeErrorKind(w, http.StatusBadRequest, "invalid_request", "pubkey is required")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeErrorKind(w http.ResponseWriter, status int, kind string, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Kind: kind, Message: message}})
}

// writeError maps domain errors onto the command error taxonomy
func writeError(w http.ResponseWriter, err error) {
	var walletErr *nwc.WalletError

	switch {
	case errors.Is(err, accounts.ErrUnknownAccount):
		writeErrorKind(w, http.StatusNotFound, "unknown_account", err.Error())
	case errors.Is(err, accounts.ErrDuplicateIdentity):
		writeErrorKind(w, http.StatusConflict, "duplicate_identity", err.Error())
	case errors.Is(err, accounts.ErrInvalidSecret):
		writeErrorKind(w, http.StatusBadRequest, "invalid_secret", err.Error())
	case errors.Is(err, relaylist.ErrRelayUnreachable):
		writeErrorKind(w, http.StatusBadGateway, "relay_unreachable", err.Error())
	case errors.Is(err, profile.ErrNoRelayAccepted):
		writeErrorKind(w, http.StatusBadGateway, "no_relay_accepted", err.Error())
	case errors.Is(err, nwc.ErrMalformedURI):
		writeErrorKind(w, http.StatusBadRequest, "malformed_uri", err.Error())
	case errors.Is(err, nwc.ErrNoWalletConnected):
		writeErrorKind(w, http.StatusConflict, "no_wallet_connected", err.Error())
	case errors.Is(err, nwc.ErrRequestTimedOut):
		writeErrorKind(w, http.StatusGatewayTimeout, "wallet_timeout", err.Error())
	case errors.Is(err, nwc.ErrMalformedResponse):
		writeErrorKind(w, http.StatusBadGateway, "malformed_wallet_response", err.Error())
	case errors.As(err, &walletErr):
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error": errorBody{Kind: "wallet_error", Message: walletErr.Message},
			"code":  walletErr.Code,
		})
	default:
		slog.Error("command failed", "error", err)
		writeErrorKind(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
