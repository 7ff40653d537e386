package ticket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestClient(rt roundTripFunc) *Client {
	c := NewClient("http://tickets.local", "user", "pass", "", time.Second)
	c.httpClient.Transport = rt
	return c
}

func TestGetIncidentReturnsNilWhenAbsent(t *testing.T) {
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"result":[]}`), nil
	})

	incident, err := c.GetIncident(context.Background(), "INC404")
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if incident != nil {
		t.Fatalf("expected nil for an unknown incident, got %+v", incident)
	}
}

func TestQueryOpenIncidentsFiltersNewState(t *testing.T) {
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		if got := req.URL.Query().Get("sysparm_query"); got != "state=1" {
			t.Fatalf("expected new-state filter, got %q", got)
		}
		if user, pass, ok := req.BasicAuth(); !ok || user != "user" || pass != "pass" {
			t.Fatal("expected basic auth credentials")
		}
		return jsonResponse(http.StatusOK, `{"result":[{"sys_id":"abc","number":"INC1","state":"1","short_description":"disk full"}]}`), nil
	})

	incidents, err := c.QueryOpenIncidents(context.Background(), 5)
	if err != nil {
		t.Fatalf("QueryOpenIncidents: %v", err)
	}
	if len(incidents) != 1 || incidents[0].Number != "INC1" {
		t.Fatalf("unexpected incidents %+v", incidents)
	}
}

func TestCloseTicketPatchesResolutionFields(t *testing.T) {
	var patched map[string]string
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		switch req.Method {
		case http.MethodGet:
			return jsonResponse(http.StatusOK, `{"result":[{"sys_id":"abc","number":"INC1"}]}`), nil
		case http.MethodPatch:
			if !strings.HasSuffix(req.URL.Path, "/incident/abc") {
				t.Fatalf("patch must target the sys_id, got %s", req.URL.Path)
			}
			if err := json.NewDecoder(req.Body).Decode(&patched); err != nil {
				t.Fatalf("decode patch body: %v", err)
			}
			return jsonResponse(http.StatusOK, `{"result":{}}`), nil
		default:
			t.Fatalf("unexpected method %s", req.Method)
			return nil, nil
		}
	})

	if err := c.CloseTicket(context.Background(), "INC1", "cleaned /var", "cleanup successful"); err != nil {
		t.Fatalf("CloseTicket: %v", err)
	}

	if patched["state"] != "7" {
		t.Fatalf("expected closed state 7, got %q", patched["state"])
	}
	if patched["work_notes"] != "cleaned /var" || patched["close_notes"] != "cleanup successful" {
		t.Fatalf("unexpected patch payload %v", patched)
	}
}

func TestAppendNotesKeepsState(t *testing.T) {
	var patched map[string]string
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.Method == http.MethodGet {
			return jsonResponse(http.StatusOK, `{"result":[{"sys_id":"abc","number":"INC1"}]}`), nil
		}
		if err := json.NewDecoder(req.Body).Decode(&patched); err != nil {
			t.Fatalf("decode patch body: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"result":{}}`), nil
	})

	if err := c.AppendNotes(context.Background(), "INC1", "remediation escalated"); err != nil {
		t.Fatalf("AppendNotes: %v", err)
	}
	if _, ok := patched["state"]; ok {
		t.Fatalf("appending notes must not change state, got %v", patched)
	}
	if patched["work_notes"] != "remediation escalated" {
		t.Fatalf("unexpected notes %v", patched)
	}
}

func TestTokenAuthWinsOverBasic(t *testing.T) {
	c := NewClient("http://tickets.local", "user", "pass", "secret", time.Second)
	c.httpClient.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if got := req.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		return jsonResponse(http.StatusOK, `{"result":[]}`), nil
	})

	if _, err := c.GetIncident(context.Background(), "INC1"); err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
}
