package gateway

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	// encryptTimeout bounds the card encryption call.
	encryptTimeout = 30 * time.Second
	// debitTimeout bounds the debit call.
	debitTimeout = 20 * time.Second
)

// Card is a customer card to be debited.
type Card struct {
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiry_month"`
	ExpiryYear  string `json:"expiry_year"`
	CVV         string `json:"cvv"`
	PIN         string `json:"pin"`
}

// DebitRequest is a card debit instruction.
type DebitRequest struct {
	EncryptedCard string
	AmountKobo    int64
	Reference     string
	CustomerID    string
	Narration     string
}

// DebitResult is the processor's acknowledgement of a debit.
type DebitResult struct {
	Reference string `json:"transaction_ref"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// CardClient talks to the card processor.
type CardClient struct {
	baseURL    string
	encryptURL string
	apiKey     string
	secretKey  string
	encryptor  *http.Client
	debits     *http.Client
}

// NewCardClient creates a card processor client.
func NewCardClient(baseURL, encryptURL, apiKey, secretKey string) *CardClient {
	return &CardClient{
		baseURL:    baseURL,
		encryptURL: encryptURL,
		apiKey:     apiKey,
		secretKey:  secretKey,
		encryptor:  &http.Client{Timeout: encryptTimeout},
		debits:     &http.Client{Timeout: debitTimeout},
	}
}

// signature authenticates a request. The processor verifies
// MD5(requestRef ";" secretKey) hex-encoded in the Signature header.
func (c *CardClient) signature(requestRef string) string {
	sum := md5.Sum([]byte(requestRef + ";" + c.secretKey))
	return hex.EncodeToString(sum[:])
}

// EncryptCard exchanges raw card details for an encrypted blob the
// processor accepts in debit calls. Raw PANs never touch our storage.
func (c *CardClient) EncryptCard(ctx context.Context, card Card) (string, error) {
	body, err := json.Marshal(card)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.encryptURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.encryptor.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: encrypt status %d", ErrUnavailable, resp.StatusCode)
	}

	var out struct {
		EncryptedCard string `json:"encrypted_card"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: bad encrypt payload", ErrUnavailable)
	}
	if out.EncryptedCard == "" {
		return "", ErrDeclined
	}
	return out.EncryptedCard, nil
}

// Debit charges an encrypted card.
func (c *CardClient) Debit(ctx context.Context, dr DebitRequest) (*DebitResult, error) {
	payload := map[string]any{
		"request_ref":  dr.Reference,
		"request_type": "collect",
		"auth": map[string]string{
			"type":   "card",
			"secure": dr.EncryptedCard,
		},
		"transaction": map[string]any{
			"amount":          dr.AmountKobo,
			"customer_ref":    dr.CustomerID,
			"transaction_ref": dr.Reference,
			"narration":       dr.Narration,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transact", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Signature", c.signature(dr.Reference))

	resp, err := c.debits.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: debit status %d", ErrUnavailable, resp.StatusCode)
	}

	var out struct {
		Status string `json:"status"`
		Data   struct {
			Reference string `json:"transaction_ref"`
			Message   string `json:"message"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: bad debit payload", ErrUnavailable)
	}
	if resp.StatusCode >= 400 || out.Status != "Successful" {
		return nil, fmt.Errorf("%w: %s", ErrDeclined, out.Data.Message)
	}

	ref := out.Data.Reference
	if ref == "" {
		ref = dr.Reference
	}
	return &DebitResult{Reference: ref, Status: out.Status, Message: out.Data.Message}, nil
}
