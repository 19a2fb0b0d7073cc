package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func azureTestServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") == "" {
			t.Error("request is missing the api-key header")
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("request body is not a chat request: %v", err)
		}
		if req.ResponseFormat.Type != "json_object" {
			t.Errorf("response_format = %q, want json_object", req.ResponseFormat.Type)
		}
		w.WriteHeader(status)
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(t *testing.T, endpoint string) *AzureClient {
	t.Helper()
	c, err := NewAzureClient(AzureConfig{Endpoint: endpoint, Deployment: "gpt-4o", APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewAzureClient: %v", err)
	}
	return c
}

func TestNewAzureClientNotConfigured(t *testing.T) {
	for _, cfg := range []AzureConfig{
		{},
		{Endpoint: "https://x", Deployment: "d"},
		{Endpoint: "https://x", APIKey: "k"},
		{Deployment: "d", APIKey: "k"},
	} {
		if _, err := NewAzureClient(cfg); !errors.Is(err, ErrNotConfigured) {
			t.Fatalf("config %+v: expected ErrNotConfigured, got %v", cfg, err)
		}
	}
}

func TestExtractFields(t *testing.T) {
	srv := azureTestServer(t, http.StatusOK,
		`{"invoice_number":"INV-7","invoice_date":"2025-01-02","vendor_name":"Acme","customer_name":"Bob","total_amount":"100.00","tax_amount":"20.00"}`)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	f, err := c.ExtractFields(context.Background(), "Invoice INV-7 ...")
	if err != nil {
		t.Fatalf("ExtractFields: %v", err)
	}
	if f.InvoiceNumber != "INV-7" || f.TotalAmount != "100.00" {
		t.Fatalf("unexpected fields: %+v", f)
	}
}

func TestExtractFieldsProseWrappedJSON(t *testing.T) {
	srv := azureTestServer(t, http.StatusOK,
		`Sure! Here is the result: {"invoice_number":"INV-9","invoice_date":"","vendor_name":"","customer_name":"","total_amount":"","tax_amount":""} Hope that helps.`)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	f, err := c.ExtractFields(context.Background(), "text")
	if err != nil {
		t.Fatalf("ExtractFields: %v", err)
	}
	if f.InvoiceNumber != "INV-9" {
		t.Fatalf("salvage failed: %+v", f)
	}
}

func TestExtractFieldsGarbageContent(t *testing.T) {
	srv := azureTestServer(t, http.StatusOK, "no json here at all")
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	f, err := c.ExtractFields(context.Background(), "text")
	if err != nil {
		t.Fatalf("garbage content must degrade to empty fields, got error %v", err)
	}
	if f != (Fields{}) {
		t.Fatalf("expected empty fields, got %+v", f)
	}
}

func TestExtractFieldsBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.ExtractFields(context.Background(), "text"); err == nil {
		t.Fatal("expected error on 5xx response")
	}
}

func TestExtractFieldsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.ExtractFields(context.Background(), "text"); err == nil {
		t.Fatal("expected error when backend is unreachable")
	}
}

func TestParseFields(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"strict json", `{"invoice_number":"A1"}`, "A1"},
		{"wrapped json", `prefix {"invoice_number":"B2"} suffix`, "B2"},
		{"no json", "nothing", ""},
		{"unbalanced", "{ not json", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseFields(tc.content); got.InvoiceNumber != tc.want {
				t.Fatalf("ParseFields(%q).InvoiceNumber = %q, want %q", tc.content, got.InvoiceNumber, tc.want)
			}
		})
	}
}
