package peersvc_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mkrupp/peershare/internal/svc/peersvc"
)

func TestHTTPTransport_DownloadWithoutLogin(t *testing.T) {
	t.Parallel()

	peer, _, _ := setupTestPeer(t)

	server := httptest.NewServer(peersvc.NewHTTPTransport(peer, peersvc.HTTPTransportConfig{}))
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/downloads/1", "", nil)
	if err != nil {
		t.Fatalf("POST /api/downloads/1 error = %v", err)
	}

	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHTTPTransport_LogoutWithoutLogin(t *testing.T) {
	t.Parallel()

	peer, _, _ := setupTestPeer(t)

	server := httptest.NewServer(peersvc.NewHTTPTransport(peer, peersvc.HTTPTransportConfig{}))
	defer server.Close()

	req, err := http.NewRequestWithContext(
		context.Background(), http.MethodPost, server.URL+"/api/logout", nil,
	)
	if err != nil {
		t.Fatalf("new request error = %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/logout error = %v", err)
	}

	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
