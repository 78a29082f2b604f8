package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// doJSON issues an HTTP request with the given headers and optional JSON
// body, decoding a JSON response into out (if non-nil). Each adapter's
// Python original opened a fresh httpx.AsyncClient per call with a fixed
// timeout; here a single shared *http.Client is reused, and the call gets
// its own per-call deadline from classTimeout rather than a single flat
// ceiling, since reads and mutating/pipeline-triggering calls warrant
// different budgets (SPEC_FULL.md §5's 15-120s endpoint-class range).
func doJSON(ctx context.Context, client *http.Client, method, rawURL string, headers map[string]string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, classTimeout(method))
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("capability: encoding request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("capability: building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("capability: request to %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("capability: reading response from %s: %w", rawURL, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("capability: %s %s returned %d: %s", method, rawURL, resp.StatusCode, string(respBody))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("capability: decoding response from %s: %w", rawURL, err)
		}
	}
	return nil
}

func withQuery(rawURL string, params url.Values) string {
	if len(params) == 0 {
		return rawURL
	}
	return rawURL + "?" + params.Encode()
}

// defaultHTTPClient carries no client-level timeout: per-call deadlines
// are set on ctx by doJSON (via classTimeout), and a fixed client.Timeout
// here would silently re-impose a single flat ceiling under it.
func defaultHTTPClient() *http.Client {
	return &http.Client{}
}

// classTimeout approximates SPEC_FULL.md §5's endpoint-class timeout
// range by HTTP method: idempotent reads get the short end, mutating
// calls — which can trigger a CI pipeline or a merge on the vendor side —
// get the long end.
func classTimeout(method string) time.Duration {
	switch method {
	case http.MethodGet:
		return 15 * time.Second
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return 60 * time.Second
	default:
		return 30 * time.Second
	}
}
