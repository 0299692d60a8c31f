// Package auth interprets the opaque "store-wide credentials" blob named
// in the Network State (spec §3) and the SSL transport options carried on
// each Server Node. Two concerns live here:
//
//   - CredentialSource: a SCRAM-SHA-256 challenge/response run on first
//     use against a node's authenticate endpoint, producing a bearer token
//     reused by later Headers calls on the same source.
//   - client certificate loading for mutual TLS, including PKCS8 keys
//     that may themselves be password-encrypted.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xdg-go/scram"
	"github.com/youmark/pkcs8"
	"golang.org/x/crypto/pbkdf2"
)

// Credentials is the decoded form of the opaque store-wide credentials
// blob: an API key identifier plus its secret.
type Credentials struct {
	APIKeyID     string
	APIKeySecret string
}

// IsZero reports whether no credentials were configured, in which case the
// store talks to the cluster unauthenticated.
func (c Credentials) IsZero() bool {
	return c.APIKeyID == "" && c.APIKeySecret == ""
}

// CredentialSource produces the header(s) to attach to outgoing requests,
// authenticating first if necessary.
type CredentialSource interface {
	// Headers returns the headers (e.g. Authorization) to attach to a
	// request against baseURL, authenticating against it first if this
	// is the first call.
	Headers(ctx context.Context, httpClient *http.Client, baseURL string) (map[string]string, error)
}

// NoAuth is the CredentialSource used when no credentials were configured.
type NoAuth struct{}

// Headers implements CredentialSource.
func (NoAuth) Headers(context.Context, *http.Client, string) (map[string]string, error) {
	return nil, nil
}

// APIKeyAuth runs a SCRAM-SHA-256 exchange against {baseURL}/authenticate
// the first time Headers is called, then reuses the resulting bearer
// token for the lifetime of this APIKeyAuth value.
//
// Stretching the raw secret through PBKDF2 before it enters the SCRAM
// conversation means a compromised wire capture of the conversation alone
// can't be replayed to recover the original secret.
type APIKeyAuth struct {
	creds Credentials

	token string
}

// NewAPIKeyAuth builds an APIKeyAuth. Fails fast if creds are incomplete.
func NewAPIKeyAuth(creds Credentials) (*APIKeyAuth, error) {
	if creds.APIKeyID == "" || creds.APIKeySecret == "" {
		return nil, fmt.Errorf("auth: api key id and secret are both required")
	}
	return &APIKeyAuth{creds: creds}, nil
}

type startResponse struct {
	Salt       string `json:"Salt"`
	Iterations int    `json:"Iterations"`
	Challenge  string `json:"Challenge"`
}

type finishResponse struct {
	Token     string `json:"Token"`
	Challenge string `json:"Challenge"`
}

// Headers implements CredentialSource, authenticating on first use.
func (a *APIKeyAuth) Headers(ctx context.Context, httpClient *http.Client, baseURL string) (map[string]string, error) {
	if a.token != "" {
		return map[string]string{"Authorization": "Bearer " + a.token}, nil
	}

	token, err := a.negotiate(ctx, httpClient, baseURL)
	if err != nil {
		return nil, fmt.Errorf("auth: scram negotiation: %w", err)
	}
	a.token = token
	return map[string]string{"Authorization": "Bearer " + a.token}, nil
}

// stretchSecret pre-hashes the raw API key secret through PBKDF2 before it
// enters the SCRAM conversation as the "password", so a captured
// conversation can't be replayed to recover the original secret.
func stretchSecret(secret, keyID string) []byte {
	return pbkdf2.Key([]byte(secret), []byte(keyID), 4096, 32, sha256.New)
}

func (a *APIKeyAuth) negotiate(ctx context.Context, httpClient *http.Client, baseURL string) (string, error) {
	stretched := stretchSecret(a.creds.APIKeySecret, a.creds.APIKeyID)

	client, err := scram.SHA256.NewClient(a.creds.APIKeyID, string(stretched), "")
	if err != nil {
		return "", fmt.Errorf("build scram client: %w", err)
	}
	conv := client.NewConversation()

	first, err := conv.Step("")
	if err != nil {
		return "", fmt.Errorf("client-first: %w", err)
	}

	start, err := postJSON[startResponse](ctx, httpClient, baseURL+"/authenticate/start", map[string]string{
		"ApiKeyId": a.creds.APIKeyID,
		"Message":  first,
	})
	if err != nil {
		return "", err
	}

	final, err := conv.Step(start.Challenge)
	if err != nil {
		return "", fmt.Errorf("client-final: %w", err)
	}

	finish, err := postJSON[finishResponse](ctx, httpClient, baseURL+"/authenticate/finish", map[string]string{
		"ApiKeyId": a.creds.APIKeyID,
		"Message":  final,
	})
	if err != nil {
		return "", err
	}

	if finish.Challenge != "" {
		if _, err := conv.Step(finish.Challenge); err != nil {
			return "", fmt.Errorf("verify server-final: %w", err)
		}
	}
	if !conv.Done() {
		return "", fmt.Errorf("scram conversation did not complete")
	}

	return finish.Token, nil
}

func postJSON[T any](ctx context.Context, httpClient *http.Client, url string, body map[string]string) (T, error) {
	var out T

	payload, err := json.Marshal(body)
	if err != nil {
		return out, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return out, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return out, fmt.Errorf("authenticate endpoint returned %d: %s", resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// TLSOptions is the opaque "SSL transport options" blob attached to a
// Server Node: an optional client certificate (possibly PKCS8-encrypted)
// used for mutual TLS, plus whether to verify the server's certificate.
type TLSOptions struct {
	ClientCertPEM       []byte
	ClientKeyPKCS8DER   []byte
	ClientKeyPassphrase string
	RootCAs             *x509.CertPool
	InsecureSkipVerify  bool
}

// BuildTLSConfig decodes TLSOptions into a *tls.Config, decrypting the
// client private key via PKCS8 if a passphrase was supplied.
func BuildTLSConfig(opts TLSOptions) (*tls.Config, error) {
	cfg := &tls.Config{
		RootCAs:            opts.RootCAs,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}

	if len(opts.ClientCertPEM) == 0 {
		return cfg, nil
	}

	key, err := loadPrivateKey(opts.ClientKeyPKCS8DER, opts.ClientKeyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("auth: load client key: %w", err)
	}

	certBlock, err := parseFirstCertificate(opts.ClientCertPEM)
	if err != nil {
		return nil, err
	}

	cfg.Certificates = []tls.Certificate{{
		Certificate: [][]byte{certBlock.Raw},
		PrivateKey:  key,
		Leaf:        certBlock,
	}}

	return cfg, nil
}

func loadPrivateKey(der []byte, passphrase string) (interface{}, error) {
	if passphrase == "" {
		return pkcs8.ParsePKCS8PrivateKey(der)
	}
	return pkcs8.ParsePKCS8PrivateKey(der, []byte(passphrase))
}

// parseFirstCertificate decodes the first PEM CERTIFICATE block from a
// PEM-encoded blob and parses it as an X.509 certificate.
func parseFirstCertificate(pemData []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, pemData = pem.Decode(pemData)
		if block == nil {
			return nil, fmt.Errorf("no CERTIFICATE block found")
		}
		if block.Type == "CERTIFICATE" {
			return x509.ParseCertificate(block.Bytes)
		}
	}
}
