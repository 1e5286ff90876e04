package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPInvoker calls a remote custody contract gateway:
//
//	POST {baseURL}/contracts/{contractID}/invoke/{function}
//
// with the JSON args as body. The gateway answers {ok, payload, error}.
type HTTPInvoker struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPInvoker creates an invoker for the gateway at baseURL.
func NewHTTPInvoker(baseURL, apiKey string, timeout time.Duration) *HTTPInvoker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPInvoker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type gatewayResponse struct {
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error"`
}

func (h *HTTPInvoker) InvokeContract(ctx context.Context, contractID, function string, args []byte) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/contracts/%s/invoke/%s", h.baseURL, url.PathEscape(contractID), url.PathEscape(function))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(args))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", function, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", function, err)
	}

	var gr gatewayResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrContract, function, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode != http.StatusOK || !gr.OK {
		return nil, fmt.Errorf("%w: %s: %s", ErrContract, function, gr.Error)
	}
	return gr.Payload, nil
}
