// Package conekta holds the credentials and webhook verification helpers for
// the cash and bank-transfer processor. Only webhook ingestion is needed
// today, so there is no outbound API surface yet.
package conekta

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/deeplux/deeplux-backend/pkg/config"
	"github.com/deeplux/deeplux-backend/pkg/logger"
)

var (
	errSecretRequired    = errors.New("conekta webhook secret is required")
	errSignatureRequired = errors.New("conekta signature header is required")
	errSignatureMismatch = errors.New("conekta signature mismatch")
)

// Client holds processor credentials.
type Client struct {
	apiKey        string
	signingSecret string
}

// NewClient validates the configured secrets.
func NewClient(ctx context.Context, cfg config.ConektaConfig, logg *logger.Logger) (*Client, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errSecretRequired
	}

	if logg != nil {
		logg.Info(ctx, "conekta client initialized")
	}

	return &Client{
		apiKey:        strings.TrimSpace(cfg.APIKey),
		signingSecret: secret,
	}, nil
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// VerifySignature checks the hex HMAC-SHA256 digest Conekta sends with each
// webhook delivery against the raw request body.
func (c *Client) VerifySignature(payload []byte, signature string) error {
	return VerifySignature(c.SigningSecret(), payload, signature)
}

// SignPayload computes the hex digest Conekta would attach to the payload.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature validates a webhook payload against the given secret.
func VerifySignature(secret string, payload []byte, signature string) error {
	if secret == "" {
		return errSecretRequired
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return errSignatureRequired
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return errSignatureMismatch
	}
	return nil
}
