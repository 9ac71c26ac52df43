//go:build integration

package test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"testing"
)

const (
	// Test wallet, token and target addresses
	TestUserAddress   = "0x0B8fA6F76eB75ae3a4ca28eb3020DFC4503F2136"
	TestTokenAddress  = "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"
	TestTargetAddress = "0x5401b8620E5FB570064CA9114fd1e135fd77D57c"

	TestAmount = "0.0000001"
	TestAction = 1
)

// BaseURL points at a running vault service, overridable with VAULT_BASE_URL.
var BaseURL = func() string {
	if url := os.Getenv("VAULT_BASE_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}()

func postJSON(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	reqBody, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	resp, err := http.Post(BaseURL+path, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		t.Fatalf("Failed to make POST request: %v", err)
	}
	return resp
}

func getJSON(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(BaseURL + path)
	if err != nil {
		t.Fatalf("Failed to make GET request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}
