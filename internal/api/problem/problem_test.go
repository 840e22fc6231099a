package problem

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Togather-Foundation/eventbook/internal/validation"
)

func TestWrite_DevIncludesDetail(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/events/1", nil)
	res := httptest.NewRecorder()

	Write(res, req, http.StatusInternalServerError, TypeServerError, "server error", errors.New("boom"), "development")

	if got := res.Result().Header.Get("Content-Type"); got != "application/problem+json" {
		t.Fatalf("expected content type problem+json, got %s", got)
	}

	var body ProblemDetails
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Detail != "boom" {
		t.Fatalf("expected detail boom, got %s", body.Detail)
	}
	if body.Instance != "/events/1" {
		t.Fatalf("expected instance /events/1, got %s", body.Instance)
	}
}

func TestWrite_ProdHidesServerErrorDetail(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/events", nil)
	res := httptest.NewRecorder()

	ServerError(res, req, errors.New("pq: connection refused"), "production")

	var body ProblemDetails
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Detail != http.StatusText(http.StatusInternalServerError) {
		t.Fatalf("expected sanitized detail, got %s", body.Detail)
	}
	if body.Type != TypeServerError {
		t.Fatalf("expected type %s, got %s", TypeServerError, body.Type)
	}
}

func TestWrite_ProdKeepsClientErrorDetail(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://example.com/bookings", nil)
	res := httptest.NewRecorder()

	Conflict(res, req, errors.New("event is full"), "production")

	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
	var body ProblemDetails
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Detail != "event is full" {
		t.Fatalf("expected detail to be kept, got %s", body.Detail)
	}
}

func TestWrite_ValidationErrorsListed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://example.com/events", nil)
	res := httptest.NewRecorder()

	verr := &validation.Error{Fields: []validation.FieldError{
		{Field: "title", Message: "is required"},
		{Field: "maxCapacity", Message: "must be greater than 0"},
	}}
	BadRequest(res, req, verr, "production")

	var body ProblemDetails
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Type != TypeValidation || body.Status != http.StatusBadRequest {
		t.Fatalf("unexpected problem %+v", body)
	}
	if body.Errors["title"] != "is required" || body.Errors["maxCapacity"] != "must be greater than 0" {
		t.Fatalf("unexpected errors %+v", body.Errors)
	}
}

func TestShorthandsDefaultErrors(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, *http.Request, error, string)
		status int
		typ    string
	}{
		{"unauthorized", Unauthorized, http.StatusUnauthorized, TypeUnauthorized},
		{"forbidden", Forbidden, http.StatusForbidden, TypeForbidden},
		{"not found", NotFound, http.StatusNotFound, TypeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://example.com/x", nil)
			res := httptest.NewRecorder()
			tt.write(res, req, nil, "production")

			var body ProblemDetails
			if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if body.Status != tt.status || body.Type != tt.typ || body.Detail == "" {
				t.Fatalf("unexpected problem %+v", body)
			}
		})
	}
}
