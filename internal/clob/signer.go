package clob

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

var ErrMissingCreds = errors.New("clob: api credentials incomplete")

// Signer produces the authentication headers for one CLOB request.
// Each credential variant has its own adapter.
type Signer interface {
	Sign(timestamp int64, method, path string, body []byte) (http.Header, error)
}

// ApiCreds are a user's L2 credentials, decrypted server-side.
type ApiCreds struct {
	Key        string
	Secret     string
	Passphrase string
}

func (c ApiCreds) complete() bool {
	return c.Key != "" && c.Secret != "" && c.Passphrase != ""
}

// L2Signer authenticates as a user's API key.
type L2Signer struct {
	Address string
	Creds   ApiCreds
}

func (s L2Signer) Sign(timestamp int64, method, path string, body []byte) (http.Header, error) {
	if !s.Creds.complete() {
		return nil, ErrMissingCreds
	}
	sig, err := BuildHMACSignature(s.Creds.Secret, timestamp, method, path, body)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("POLY_ADDRESS", s.Address)
	h.Set("POLY_SIGNATURE", sig)
	h.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	h.Set("POLY_API_KEY", s.Creds.Key)
	h.Set("POLY_PASSPHRASE", s.Creds.Passphrase)
	return h, nil
}

// BuilderSigner attributes order flow to the platform's builder account.
type BuilderSigner struct {
	Creds ApiCreds
}

func (s BuilderSigner) Sign(timestamp int64, method, path string, body []byte) (http.Header, error) {
	if !s.Creds.complete() {
		return nil, ErrMissingCreds
	}
	sig, err := BuildHMACSignature(s.Creds.Secret, timestamp, method, path, body)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("POLY_BUILDER_API_KEY", s.Creds.Key)
	h.Set("POLY_BUILDER_PASSPHRASE", s.Creds.Passphrase)
	h.Set("POLY_BUILDER_SIGNATURE", sig)
	h.Set("POLY_BUILDER_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	return h, nil
}

// Chain merges the headers of several signers; later signers win on conflict.
type Chain []Signer

func (c Chain) Sign(timestamp int64, method, path string, body []byte) (http.Header, error) {
	out := http.Header{}
	for _, s := range c {
		if s == nil {
			continue
		}
		h, err := s.Sign(timestamp, method, path, body)
		if err != nil {
			return nil, err
		}
		for k, vs := range h {
			out[k] = vs
		}
	}
	return out, nil
}

// HeaderMap flattens signed headers for a JSON response.
func HeaderMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[strings.ToUpper(k)] = h.Get(k)
	}
	return out
}
