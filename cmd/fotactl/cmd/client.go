package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"

	"fotad.sh/internal/version"
)

// apiClient is a thin JSON client for the fotad HTTP API. All business
// logic lives server-side; this only moves payloads.
type apiClient struct {
	baseURL string
	hc      *http.Client
}

func newClient() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(viper.GetString("server"), "/"),
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is the daemon's error envelope.
type apiError struct {
	Message string `json:"error"`
	Code    string `json:"code"`
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

func (c *apiClient) do(method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach fotad at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return &apiErr
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) get(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *apiClient) post(path string, body, out any) error {
	return c.do(http.MethodPost, path, body, out)
}

func (c *apiClient) put(path string, body, out any) error {
	return c.do(http.MethodPut, path, body, out)
}

func (c *apiClient) delete(path string, out any) error {
	return c.do(http.MethodDelete, path, nil, out)
}
