// Package ledger talks to the token network gateway that performs the actual
// on-chain issuance.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/verdantis/emissary/internal/model"
)

// HTTPGateway submits issuance calls to a gateway over HTTP.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPGateway creates a gateway client for the given base URL.
func NewHTTPGateway(baseURL string, logger *slog.Logger) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

type issueRequest struct {
	Caller model.TokenIssueInput `json:"input"`
	Signer signer                `json:"signer"`
}

type signer struct {
	Address    string `json:"address"`
	PrivateKey string `json:"privateKey,omitempty"`
}

// IssueTokens posts one issuance call and returns the gateway's receipt.
func (g *HTTPGateway) IssueTokens(ctx context.Context, caller model.Caller, input model.TokenIssueInput) (model.TokenReceipt, error) {
	body, err := json.Marshal(issueRequest{
		Caller: input,
		Signer: signer{Address: caller.Address, PrivateKey: caller.PrivateKey},
	})
	if err != nil {
		return model.TokenReceipt{}, fmt.Errorf("ledger: marshal issue request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/tokens", bytes.NewReader(body))
	if err != nil {
		return model.TokenReceipt{}, fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return model.TokenReceipt{}, fmt.Errorf("ledger: issue tokens: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return model.TokenReceipt{}, fmt.Errorf("ledger: gateway returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var receipt model.TokenReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return model.TokenReceipt{}, fmt.Errorf("ledger: decode receipt: %w", err)
	}
	if receipt.TokenID == "" {
		return model.TokenReceipt{}, fmt.Errorf("ledger: gateway returned no token id")
	}
	g.logger.Debug("gateway issued token", "token_id", receipt.TokenID, "tx", receipt.TxHash)
	return receipt, nil
}
