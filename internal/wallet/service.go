// Package wallet stores users' exchange API credentials encrypted at rest and
// signs CLOB requests with them server-side. Decrypted secrets never leave
// the process: clients get signed headers or a forwarded order, not keys.
//
// The service does not prove that a caller owns the wallet it names, so the
// sign and order endpoints act with that wallet's exchange credentials on
// request. Routes takes middleware for that check; without any, the routes
// must only be reachable from a trusted frontend.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/miyamoto-labs/easypoly/internal/address"
	"github.com/miyamoto-labs/easypoly/internal/clob"
	"github.com/miyamoto-labs/easypoly/internal/httpx"
	"github.com/miyamoto-labs/easypoly/internal/model"
	"github.com/miyamoto-labs/easypoly/internal/store"
	"github.com/miyamoto-labs/easypoly/internal/vault"
)

var (
	ErrInvalidCreds = errors.New("wallet: key, secret and passphrase are required")
	ErrNoCreds      = errors.New("wallet: no credentials stored for wallet")
	ErrInvalidSign  = errors.New("wallet: invalid signing request")
	ErrInvalidOrder = errors.New("wallet: order must be a JSON object")
	ErrUpstream     = errors.New("wallet: exchange request failed")
)

// OrderPoster forwards signed orders. Implemented by *clob.Client.
type OrderPoster interface {
	PostOrder(ctx context.Context, signer clob.Signer, body []byte) (json.RawMessage, error)
	Timestamp() int64
}

type Service struct {
	store   store.Store
	vault   *vault.Vault
	clob    OrderPoster
	builder clob.Signer
	now     func() time.Time
}

// NewService creates a wallet service. builder may be nil when no builder
// account is configured; orders then carry only the user's L2 headers.
func NewService(st store.Store, v *vault.Vault, poster OrderPoster, builder clob.Signer) *Service {
	return &Service{store: st, vault: v, clob: poster, builder: builder, now: time.Now}
}

// CredentialsView is what the API reveals about stored credentials.
type CredentialsView struct {
	WalletAddress string    `json:"walletAddress"`
	Key           string    `json:"key"`
	HasSecret     bool      `json:"hasSecret"`
	HasPassphrase bool      `json:"hasPassphrase"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func view(c *model.WalletCredentials) *CredentialsView {
	return &CredentialsView{
		WalletAddress: c.WalletAddress,
		Key:           c.APIKey,
		HasSecret:     c.EncryptedSecret != "",
		HasPassphrase: c.EncryptedPassphrase != "",
		UpdatedAt:     c.UpdatedAt,
	}
}

// Save encrypts and stores a wallet's credentials, replacing any existing.
func (s *Service) Save(ctx context.Context, wallet, key, secret, passphrase string) (*CredentialsView, error) {
	wallet, err := address.Normalize(wallet)
	if err != nil {
		return nil, err
	}
	key, secret, passphrase = strings.TrimSpace(key), strings.TrimSpace(secret), strings.TrimSpace(passphrase)
	if key == "" || secret == "" || passphrase == "" {
		return nil, ErrInvalidCreds
	}

	encSecret, err := s.vault.Encrypt(secret)
	if err != nil {
		return nil, err
	}
	encPass, err := s.vault.Encrypt(passphrase)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c := &model.WalletCredentials{
		WalletAddress:       wallet,
		APIKey:              key,
		EncryptedSecret:     encSecret,
		EncryptedPassphrase: encPass,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.PutCredentials(ctx, c); err != nil {
		return nil, fmt.Errorf("store credentials: %w", err)
	}
	slog.Info("wallet credentials saved", "wallet", wallet)
	return view(c), nil
}

// Get returns the public view of a wallet's credentials.
func (s *Service) Get(ctx context.Context, wallet string) (*CredentialsView, error) {
	wallet, err := address.Normalize(wallet)
	if err != nil {
		return nil, err
	}
	c, err := s.store.GetCredentials(ctx, wallet)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoCreds
	}
	if err != nil {
		return nil, err
	}
	return view(c), nil
}

// signer decrypts the wallet's credentials into an L2 signer.
func (s *Service) signer(ctx context.Context, wallet string) (clob.L2Signer, error) {
	c, err := s.store.GetCredentials(ctx, wallet)
	if errors.Is(err, store.ErrNotFound) {
		return clob.L2Signer{}, ErrNoCreds
	}
	if err != nil {
		return clob.L2Signer{}, err
	}
	secret, err := s.vault.Decrypt(c.EncryptedSecret)
	if err != nil {
		return clob.L2Signer{}, err
	}
	passphrase, err := s.vault.Decrypt(c.EncryptedPassphrase)
	if err != nil {
		return clob.L2Signer{}, err
	}
	return clob.L2Signer{
		Address: address.Checksum(wallet),
		Creds:   clob.ApiCreds{Key: c.APIKey, Secret: secret, Passphrase: passphrase},
	}, nil
}

var signMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
}

// SignResult carries the headers a client attaches to its own CLOB request.
type SignResult struct {
	Timestamp int64             `json:"timestamp"`
	Headers   map[string]string `json:"headers"`
}

// Sign produces L2 headers for one CLOB request on behalf of wallet.
func (s *Service) Sign(ctx context.Context, wallet, method, path, body string) (*SignResult, error) {
	wallet, err := address.Normalize(wallet)
	if err != nil {
		return nil, err
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if !signMethods[method] {
		return nil, fmt.Errorf("%w: unsupported method %q", ErrInvalidSign, method)
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: path must start with /", ErrInvalidSign)
	}

	l2, err := s.signer(ctx, wallet)
	if err != nil {
		return nil, err
	}
	ts := s.clob.Timestamp()
	var payload []byte
	if body != "" {
		payload = []byte(body)
	}
	h, err := l2.Sign(ts, method, path, payload)
	if err != nil {
		return nil, err
	}
	return &SignResult{Timestamp: ts, Headers: clob.HeaderMap(h)}, nil
}

// PostOrder forwards a client-signed order with the wallet's L2 headers and,
// when configured, the platform's builder headers.
func (s *Service) PostOrder(ctx context.Context, wallet string, order json.RawMessage) (json.RawMessage, error) {
	wallet, err := address.Normalize(wallet)
	if err != nil {
		return nil, err
	}
	order = bytes.TrimSpace(order)
	if len(order) == 0 || order[0] != '{' || !json.Valid(order) {
		return nil, ErrInvalidOrder
	}

	l2, err := s.signer(ctx, wallet)
	if err != nil {
		return nil, err
	}
	var signer clob.Signer = l2
	if s.builder != nil {
		signer = clob.Chain{l2, s.builder}
	}

	resp, err := s.clob.PostOrder(ctx, signer, order)
	if err != nil {
		if errors.Is(err, clob.ErrMissingCreds) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	slog.Info("order forwarded", "wallet", wallet, "builder", s.builder != nil)
	return resp, nil
}

// --- HTTP handlers ---

// SaveRequest is the JSON body for POST /api/wallet/creds.
type SaveRequest struct {
	WalletAddress string `json:"walletAddress"`
	Key           string `json:"key"`
	Secret        string `json:"secret"`
	Passphrase    string `json:"passphrase"`
}

// SignRequest is the JSON body for POST /api/wallet/sign.
type SignRequest struct {
	WalletAddress string `json:"walletAddress"`
	Method        string `json:"method"`
	Path          string `json:"path"`
	Body          string `json:"body"`
}

// OrderRequest is the JSON body for POST /api/wallet/order.
type OrderRequest struct {
	WalletAddress string          `json:"walletAddress"`
	Order         json.RawMessage `json:"order"`
}

func writeErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, address.ErrInvalid), errors.Is(err, ErrInvalidCreds),
		errors.Is(err, ErrInvalidSign), errors.Is(err, ErrInvalidOrder):
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNoCreds):
		httpx.WriteError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, vault.ErrKeyMissing), errors.Is(err, vault.ErrKeyLength):
		slog.Error("credential vault misconfigured", "err", err)
		httpx.WriteError(w, "credential storage not configured", http.StatusServiceUnavailable)
	case errors.Is(err, vault.ErrDecrypt):
		slog.Error("stored credentials unreadable", "err", err)
		httpx.WriteError(w, "stored credentials could not be decrypted, save them again", http.StatusInternalServerError)
	case errors.Is(err, clob.ErrMissingCreds):
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrUpstream):
		slog.Error("wallet "+op+" failed", "err", err)
		httpx.WriteError(w, "exchange rejected or did not answer the request", http.StatusBadGateway)
	default:
		slog.Error("wallet "+op+" failed", "err", err)
		httpx.WriteError(w, "failed to "+op, http.StatusInternalServerError)
	}
}

// Routes mounts the wallet endpoints on r behind mw.
func (s *Service) Routes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(mw...)
		r.Post("/wallet/creds", s.HandleSave)
		r.Get("/wallet/creds", s.HandleGet)
		r.Post("/wallet/sign", s.HandleSign)
		r.Post("/wallet/order", s.HandleOrder)
	})
}

// HandleSave handles POST /api/wallet/creds.
func (s *Service) HandleSave(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	v, err := s.Save(r.Context(), req.WalletAddress, req.Key, req.Secret, req.Passphrase)
	if err != nil {
		writeErr(w, "save credentials", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

// HandleGet handles GET /api/wallet/creds?wallet=.
func (s *Service) HandleGet(w http.ResponseWriter, r *http.Request) {
	v, err := s.Get(r.Context(), r.URL.Query().Get("wallet"))
	if err != nil {
		writeErr(w, "load credentials", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

// HandleSign handles POST /api/wallet/sign.
func (s *Service) HandleSign(w http.ResponseWriter, r *http.Request) {
	var req SignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.Sign(r.Context(), req.WalletAddress, req.Method, req.Path, req.Body)
	if err != nil {
		writeErr(w, "sign request", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandleOrder handles POST /api/wallet/order.
func (s *Service) HandleOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := s.PostOrder(r.Context(), req.WalletAddress, req.Order)
	if err != nil {
		writeErr(w, "forward order", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(resp)
}
