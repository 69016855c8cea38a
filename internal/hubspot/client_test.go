package hubspot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientUpdateObject(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"42"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	err := client.UpdateObject(context.Background(), "deals", "42", map[string]string{"dealname": "Renewal"})
	if err != nil {
		t.Fatalf("UpdateObject: %v", err)
	}
	if gotPath != "/crm/v3/objects/deals/42" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody["properties"]["dealname"] != "Renewal" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestClientSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	err := client.UpdateObject(context.Background(), "deals", "1", map[string]string{})
	if err == nil {
		t.Fatal("want error on 429")
	}
	if !strings.Contains(err.Error(), "hubspot api error (429)") {
		t.Errorf("err = %v", err)
	}
}

func TestClientListObjects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "100" {
			t.Errorf("limit = %q", got)
		}
		if got := r.URL.Query().Get("properties"); !strings.Contains(got, "dealname") {
			t.Errorf("properties = %q", got)
		}
		_, _ = w.Write([]byte(`{"results":[{"id":"1","properties":{"dealname":"A"}},{"id":"2","properties":{"dealname":"B"}}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	objects, err := client.ListObjects(context.Background(), "deals", 100, []string{"dealname", "amount"})
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(objects) != 2 || objects[0].Properties["dealname"] != "A" {
		t.Errorf("objects = %+v", objects)
	}
}

func TestClientRequiresAPIKey(t *testing.T) {
	client := NewClient("https://api.hubapi.com", "")
	err := client.UpdateObject(context.Background(), "deals", "1", nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}
