package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WithdrawSuccessCode is the banking provider's success response code.
const WithdrawSuccessCode = "0000"

// WithdrawRecord is one provider-side movement included in a withdrawal
// response, kept opaque beyond the fields we report back.
type WithdrawRecord struct {
	Seq    string `json:"seq"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// WithdrawResult is the provider's response to a withdrawal call.
type WithdrawResult struct {
	Code    string           `json:"code"`
	Message string           `json:"message"`
	Records []WithdrawRecord `json:"records"`
}

// OK reports whether the provider accepted the withdrawal.
func (r WithdrawResult) OK() bool { return r.Code == WithdrawSuccessCode }

// BankingClient moves fiat out of the platform. Exactly one withdrawal call
// is made per settlement; any non-success code is fatal to the response.
type BankingClient interface {
	Withdraw(ctx context.Context, memberID string, amount int64) (WithdrawResult, error)
}

// HTTPBankingClient talks to the banking provider over JSON/HTTP.
type HTTPBankingClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPBankingClient builds a banking client for the given endpoint.
func NewHTTPBankingClient(baseURL, apiKey string) *HTTPBankingClient {
	return &HTTPBankingClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type withdrawRequest struct {
	MemberID string `json:"memberId"`
	Amount   int64  `json:"amount"`
}

// Withdraw posts a withdrawal for the member. A transport or non-2xx failure
// returns an error; a decoded body with a non-success code is returned as-is
// for the caller to judge.
func (c *HTTPBankingClient) Withdraw(ctx context.Context, memberID string, amount int64) (WithdrawResult, error) {
	body, err := json.Marshal(withdrawRequest{MemberID: memberID, Amount: amount})
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("encode withdraw request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/withdrawals", bytes.NewReader(body))
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("build withdraw request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("withdraw call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("read withdraw response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return WithdrawResult{}, fmt.Errorf("withdraw call: provider returned status %d", resp.StatusCode)
	}

	var result WithdrawResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return WithdrawResult{}, fmt.Errorf("decode withdraw response: %w", err)
	}
	return result, nil
}
