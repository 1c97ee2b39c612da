package gateway

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// lookupTimeout bounds read-only enquiries.
	lookupTimeout = 5 * time.Second
	// transferTimeout bounds money-moving calls. Longer because the
	// provider settles synchronously.
	transferTimeout = 20 * time.Second
)

// BankAccount is a resolved bank account. TransactionEnabled is only
// meaningful for the platform's own accounts returned by FetchAccounts.
type BankAccount struct {
	AccountNumber      string `json:"account_number"`
	AccountName        string `json:"account_name"`
	BankCode           string `json:"bank_code"`
	TransactionEnabled bool   `json:"transaction_enabled,omitempty"`
}

// TransferRequest describes a single ledger movement at the provider.
type TransferRequest struct {
	FromAccount  string
	FromBankCode string
	ToAccount    string
	ToBankCode   string
	AmountKobo   int64
	Reference    string
	Narration    string
}

// TransferResult is the provider's acknowledgement of a transfer.
type TransferResult struct {
	Reference string `json:"reference"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// BankClient talks to the bank transfer provider.
type BankClient struct {
	baseURL     string
	bearerToken string
	secretKey   string
	lookups     *http.Client
	transfers   *http.Client
}

// NewBankClient creates a bank provider client.
func NewBankClient(baseURL, bearerToken, secretKey string) *BankClient {
	return &BankClient{
		baseURL:     baseURL,
		bearerToken: bearerToken,
		secretKey:   secretKey,
		lookups:     &http.Client{Timeout: lookupTimeout},
		transfers:   &http.Client{Timeout: transferTimeout},
	}
}

// mac signs a transfer with the account pair. The provider verifies
// SHA-512(from+to) base64-encoded in the Transfer-MAC header.
func (c *BankClient) mac(fromAccount, toAccount string) string {
	sum := sha512.Sum512([]byte(fromAccount + toAccount))
	return base64.StdEncoding.EncodeToString(sum[:])
}

type bankEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *BankClient) do(client *http.Client, req *http.Request) (*bankEnvelope, error) {
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var env bankEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: bad response body", ErrUnavailable)
	}
	if resp.StatusCode >= 400 || env.Status != "00" {
		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrInvalidAccount
		}
		return nil, fmt.Errorf("%w: %s", ErrDeclined, env.Message)
	}
	return &env, nil
}

// ResolveAccount looks up the account name behind a number and bank code.
func (c *BankClient) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*BankAccount, error) {
	q := url.Values{}
	q.Set("accountNumber", accountNumber)
	q.Set("bankCode", bankCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/account/enquiry?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	env, err := c.do(c.lookups, req)
	if err != nil {
		return nil, err
	}

	var account BankAccount
	if err := json.Unmarshal(env.Data, &account); err != nil {
		return nil, fmt.Errorf("%w: bad account payload", ErrUnavailable)
	}
	return &account, nil
}

// FetchAccounts lists the platform's accounts at the provider. The
// payments coordinator picks a transfer-enabled one to hold escrow when
// configuration does not name an account.
func (c *BankClient) FetchAccounts(ctx context.Context) ([]BankAccount, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/accounts", nil)
	if err != nil {
		return nil, err
	}

	env, err := c.do(c.lookups, req)
	if err != nil {
		return nil, err
	}

	var accounts []BankAccount
	if err := json.Unmarshal(env.Data, &accounts); err != nil {
		return nil, fmt.Errorf("%w: bad accounts payload", ErrUnavailable)
	}
	return accounts, nil
}

// Transfer executes a single ledger movement. Used for the escrow hold,
// the release to the agent, and the reversal to the customer; the
// caller distinguishes them only by the accounts and the reference.
func (c *BankClient) Transfer(ctx context.Context, tr TransferRequest) (*TransferResult, error) {
	payload := map[string]string{
		"fromAccount":  tr.FromAccount,
		"fromBank":     tr.FromBankCode,
		"toAccount":    tr.ToAccount,
		"toBank":       tr.ToBankCode,
		"amount":       strconv.FormatInt(tr.AmountKobo, 10),
		"reference":    tr.Reference,
		"remark":       tr.Narration,
		"transferType": "intra",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/transfer", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Transfer-MAC", c.mac(tr.FromAccount, tr.ToAccount))

	env, err := c.do(c.transfers, req)
	if err != nil {
		return nil, err
	}

	var result TransferResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return nil, fmt.Errorf("%w: bad transfer payload", ErrUnavailable)
	}
	if result.Reference == "" {
		result.Reference = tr.Reference
	}
	return &result, nil
}
