// Package clients holds the HTTP clients for the scoring sidecars: the
// neural-net scorer, the text analyzer, and the optional remote rules and
// graph services used when those engines run out of process.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/frauddetect/fraud-engine/internal/models"
)

func requestJSON(ctx context.Context, client *http.Client, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// NNClient calls the neural-net scoring service
type NNClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewNNClient creates a client for the neural-net service
func NewNNClient(baseURL string, timeout time.Duration) *NNClient {
	return &NNClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Score submits a transaction for neural-net scoring
func (c *NNClient) Score(ctx context.Context, tx *models.Transaction) (*models.NNResult, error) {
	var out models.NNResult
	if err := requestJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/score", tx, &out); err != nil {
		return nil, fmt.Errorf("nn service: %w", err)
	}
	return &out, nil
}

// TextClient calls the text analyzer service
type TextClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewTextClient creates a client for the text analyzer
func NewTextClient(baseURL string, timeout time.Duration) *TextClient {
	return &TextClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Analyze submits a transaction for text analysis
func (c *TextClient) Analyze(ctx context.Context, tx *models.Transaction) (*models.TextResult, error) {
	var out models.TextResult
	if err := requestJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/analyze", tx, &out); err != nil {
		return nil, fmt.Errorf("text analyzer: %w", err)
	}
	return &out, nil
}

// RulesClient calls a remote rules service, used when policy evaluation
// runs as its own deployment instead of in process
type RulesClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRulesClient creates a client for a remote rules service
func NewRulesClient(baseURL string, timeout time.Duration) *RulesClient {
	return &RulesClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// EvaluateTransaction scores a transaction against the remote rule set
func (c *RulesClient) EvaluateTransaction(ctx context.Context, tx *models.Transaction) (*models.EvaluationResult, error) {
	var out models.EvaluationResult
	if err := requestJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/transactions", tx, &out); err != nil {
		return nil, fmt.Errorf("rules service: %w", err)
	}
	return &out, nil
}

// GraphClient calls a remote graph service, used when the graph engine
// runs as its own deployment instead of in process
type GraphClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGraphClient creates a client for a remote graph service
func NewGraphClient(baseURL string, timeout time.Duration) *GraphClient {
	return &GraphClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Analyze requests a proximity analysis for a user. The analyze endpoint
// reads its arguments from a GET body.
func (c *GraphClient) Analyze(ctx context.Context, userID string, tx *models.Transaction) (*models.AnalyzeResult, error) {
	payload := map[string]any{"user_id": userID}
	if tx != nil {
		payload["transaction"] = tx
	}

	var out models.AnalyzeResult
	if err := requestJSON(ctx, c.httpClient, http.MethodGet, c.baseURL+"/analyze", payload, &out); err != nil {
		return nil, fmt.Errorf("graph service: %w", err)
	}
	return &out, nil
}
