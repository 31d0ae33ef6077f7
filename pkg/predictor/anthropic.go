package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/richard-senior/kicktipp/internal/logger"
	"github.com/richard-senior/kicktipp/pkg/tipp"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultModel     = "claude-sonnet-4-5"
	DefaultMaxTokens = 2048
	DefaultTimeout   = 120 * time.Second
	apiVersion       = "2023-06-01"
)

// Config selects the model and credentials of the Messages API
type Config struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		Model:       DefaultModel,
		MaxTokens:   DefaultMaxTokens,
		Temperature: 0.2,
		BaseURL:     DefaultBaseURL,
		Timeout:     DefaultTimeout,
	}
}

// Enabled is false without an api key, the run then predicts from odds alone
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Model == "" {
		return fmt.Errorf("predictor model is required")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("predictor max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("predictor temperature must be in [0,1], got %v", c.Temperature)
	}
	return nil
}

// APIError is returned when the Messages API answers with a non 200 status
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("anthropic: HTTP %d: %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("anthropic: HTTP %d: %s", e.StatusCode, e.Message)
}

// Temporary is true for rate limits and overload, which are worth a retry
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == 529 || e.StatusCode >= 500
}

// Anthropic is a tipp.Predictor backed by the Anthropic Messages API
type Anthropic struct {
	cfg        Config
	httpClient *http.Client
	onReply    func(matchday, attempt int, body string)
}

var _ tipp.Predictor = (*Anthropic)(nil)

// New creates the predictor. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) *Anthropic {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Anthropic{cfg: cfg, httpClient: httpClient}
}

// OnReply registers a hook that sees every raw model reply
func (a *Anthropic) OnReply(fn func(matchday, attempt int, body string)) {
	a.onReply = fn
}

func (a *Anthropic) endpoint() string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + "/v1/messages"
}

type messageRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Content    []contentBlock `json:"content"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// text joins all text blocks, tool use and thinking blocks are ignored
func (r *messageResponse) text() string {
	var sb strings.Builder
	for _, b := range r.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// Predict asks the model for one score per open row
func (a *Anthropic) Predict(ctx context.Context, req tipp.PredictRequest) ([]tipp.Prediction, error) {
	temperature := a.cfg.Temperature
	wire := messageRequest{
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxTokens,
		System:      systemPrompt,
		Temperature: &temperature,
		Messages:    []message{{Role: "user", Content: BuildPrompt(req)}},
	}
	logger.Info(fmt.Sprintf("Asking %s for matchday %d (%d open rows, attempt %d)", a.cfg.Model, req.Matchday, countOpen(req.Rows), req.Attempt))

	resp, err := a.complete(ctx, wire)
	if err != nil {
		return nil, err
	}
	logger.Debug(fmt.Sprintf("Model %s answered, stop=%s, tokens in=%d out=%d", resp.Model, resp.StopReason, resp.Usage.InputTokens, resp.Usage.OutputTokens))

	body := resp.text()
	if a.onReply != nil {
		a.onReply(req.Matchday, req.Attempt, body)
	}
	if resp.StopReason == "max_tokens" {
		logger.Warn("Model reply was cut at max_tokens, parsing what arrived")
	}
	return ParseReply(body)
}

func (a *Anthropic) complete(ctx context.Context, wire messageRequest) (*messageResponse, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshaling request: %w", err)
	}
	u := a.endpoint()
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: creating request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("x-api-key", a.cfg.APIKey)
	httpRequest.Header.Set("anthropic-version", apiVersion)

	httpResponse, err := a.httpClient.Do(httpRequest)
	if err != nil {
		return nil, &tipp.NetworkError{Op: "POST", URL: u, Err: err}
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode != http.StatusOK {
		apiErr := readAPIError(httpResponse)
		var ae *APIError
		if errors.As(apiErr, &ae) && ae.Temporary() {
			return nil, &tipp.NetworkError{Op: "POST", URL: u, Err: apiErr}
		}
		return nil, apiErr
	}

	var wireResp messageResponse
	if err := json.NewDecoder(httpResponse.Body).Decode(&wireResp); err != nil {
		return nil, fmt.Errorf("anthropic: decoding response: %w", err)
	}
	return &wireResp, nil
}

// readAPIError parses {"error":{"type":"...","message":"..."}}
func readAPIError(httpResponse *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 4096))

	var wireError struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wireError); err == nil && wireError.Error.Message != "" {
		return &APIError{StatusCode: httpResponse.StatusCode, Type: wireError.Error.Type, Message: wireError.Error.Message}
	}
	return &APIError{StatusCode: httpResponse.StatusCode, Message: strings.TrimSpace(string(body))}
}

func countOpen(rows []tipp.Row) int {
	n := 0
	for _, r := range rows {
		if r.Open {
			n++
		}
	}
	return n
}
