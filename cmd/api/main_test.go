package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Attendry/attendry-sub001/engine/domain"
)

type fakeSearcher struct {
	result domain.Result
	err    error
	got    domain.SearchRequest
}

func (f *fakeSearcher) Run(_ context.Context, req domain.SearchRequest) (domain.Result, error) {
	f.got = req
	return f.result, f.err
}

func TestHealthEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/health", nil)
	handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
}

func TestSearchEndpoint(t *testing.T) {
	fake := &fakeSearcher{result: domain.Result{
		Events:  []domain.Event{{Title: "Compliance Summit", SourceURL: "https://summit.example.com"}},
		Summary: domain.Summary{Discovered: 5, Accepted: 1},
	}}
	handler := handleSearch(fake, nil)

	body := `{"topic":"compliance","region":"DE","date_from":"2025-11-17","date_to":"2025-12-01"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/search", bytes.NewBufferString(body))
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if fake.got.Topic != "compliance" || fake.got.Region != "DE" {
		t.Fatalf("request not forwarded: %+v", fake.got)
	}
	if fake.got.DateFrom.IsZero() || !fake.got.DateTo.After(fake.got.DateFrom) {
		t.Fatalf("dates not parsed: %+v", fake.got)
	}

	var resp domain.Result
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].Title != "Compliance Summit" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestSearchEndpoint_InvalidJSON(t *testing.T) {
	handler := handleSearch(&fakeSearcher{}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/search", bytes.NewBufferString("not json"))
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSearchEndpoint_BadDates(t *testing.T) {
	handler := handleSearch(&fakeSearcher{}, nil)
	body := `{"topic":"compliance","date_from":"17.11.2025","date_to":"2025-12-01"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/search", bytes.NewBufferString(body))
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSearchEndpoint_ValidationErrorIs400(t *testing.T) {
	fake := &fakeSearcher{err: &domain.ValidationError{
		Field: "topic", Wrapped: domain.ErrEmptyTopic,
	}}
	handler := handleSearch(fake, nil)
	body := `{"topic":" ","date_from":"2025-11-17","date_to":"2025-12-01"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/search", bytes.NewBufferString(body))
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSearchEndpoint_NoCandidatesIs502(t *testing.T) {
	fake := &fakeSearcher{err: domain.ErrNoCandidates}
	handler := handleSearch(fake, nil)
	body := `{"topic":"compliance","date_from":"2025-11-17","date_to":"2025-12-01"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/search", bytes.NewBufferString(body))
	handler(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestLoadEnv_Defaults(t *testing.T) {
	env := loadEnv()
	if env.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", env.Port)
	}
	if env.CORSOrigin != "*" {
		t.Fatalf("expected default CORS *, got %s", env.CORSOrigin)
	}
	if env.Collection != "attendry_events" {
		t.Fatalf("expected default collection attendry_events, got %s", env.Collection)
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("TEST_ENV_VAR_XYZ", "custom")
	if v := envOr("TEST_ENV_VAR_XYZ", "default"); v != "custom" {
		t.Fatalf("expected custom, got %s", v)
	}
	if v := envOr("NONEXISTENT_VAR_ABC", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %s", v)
	}
}
