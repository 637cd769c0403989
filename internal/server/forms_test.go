package server

import (
	"context"
	"net/http"
	"strings"
	"testing"
)

func TestContactSubmissionFlow(t *testing.T) {
	harness := newTestHarness(t)

	created := harness.do(t, http.MethodPost, "/api/forms/contact", map[string]string{
		"name":    "Asha",
		"email":   "asha@example.com",
		"phone":   "9876543210",
		"message": "Do you ship to Pune?",
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", created.Code, created.Body.String())
	}
	var body struct {
		ID string `json:"id"`
	}
	decodeBody(t, created, &body)
	if body.ID == "" {
		t.Fatalf("expected an id in the response")
	}

	stored, err := harness.forms.ListContactResponses(context.Background(), 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(stored) != 1 || stored[0].ID != body.ID || stored[0].Email != "asha@example.com" {
		t.Fatalf("unexpected stored responses %+v", stored)
	}
}

func TestFormSubmissionsRejectInvalidInput(t *testing.T) {
	harness := newTestHarness(t)

	testCases := []struct {
		name     string
		path     string
		body     any
		wantCode string
	}{
		{
			name:     "contact-missing-phone",
			path:     "/api/forms/contact",
			body:     map[string]string{"name": "Asha", "email": "asha@example.com"},
			wantCode: "forms.submit_contact.invalid_input",
		},
		{
			name:     "contact-incomplete-email",
			path:     "/api/forms/contact",
			body:     map[string]string{"name": "Asha", "email": "asha@", "phone": "1"},
			wantCode: "forms.submit_contact.invalid_input",
		},
		{
			name:     "contact-blank-name",
			path:     "/api/forms/contact",
			body:     map[string]string{"name": "  ", "email": "asha@example.com", "phone": "1"},
			wantCode: "forms.submit_contact.invalid_input",
		},
		{
			name:     "distributor-bad-email",
			path:     "/api/forms/distributor",
			body:     map[string]string{"name": "Ravi", "email": "ravi.example.com", "phone": "1"},
			wantCode: "forms.submit_distributor.invalid_input",
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := harness.do(t, http.MethodPost, testCase.path, testCase.body)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("unexpected status %d", recorder.Code)
			}
			var body map[string]string
			decodeBody(t, recorder, &body)
			if body["error"] != "invalid_submission" || body["code"] != testCase.wantCode {
				t.Fatalf("unexpected error body %v", body)
			}
		})
	}

	malformed := harness.do(t, http.MethodPost, "/api/forms/contact", "{")
	if malformed.Code != http.StatusBadRequest {
		t.Fatalf("expected malformed json to be rejected, got %d", malformed.Code)
	}

	metricsBody := harness.do(t, http.MethodGet, "/metrics", nil).Body.String()
	if !strings.Contains(metricsBody, `prempushp_form_submissions_total{form="contact",outcome="rejected"} 4`) {
		t.Fatalf("expected rejected contact submissions in metrics output")
	}
}

func TestDistributorApplicationsListedForAdmin(t *testing.T) {
	harness := newTestHarness(t)

	created := harness.do(t, http.MethodPost, "/api/forms/distributor", map[string]string{
		"name":              "Ravi",
		"firmName":          "Green Basket",
		"email":             "ravi@example.com",
		"phone":             "9000000000",
		"investmentCapital": "5-10 lakh",
		"city":              "Nagpur",
		"reason":            "Expanding organic range",
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", created.Code, created.Body.String())
	}

	anonymous := harness.do(t, http.MethodGet, "/api/admin/forms/distributor", nil)
	if anonymous.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", anonymous.Code)
	}

	request := authorizedRequest(http.MethodGet, "/api/admin/forms/distributor?limit=10", harness.adminToken(t))
	recorder := serve(harness, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	var listing struct {
		Applications []struct {
			FirmName string `json:"firm_name"`
			Capital  string `json:"capital"`
			Message  string `json:"message"`
		} `json:"applications"`
	}
	decodeBody(t, recorder, &listing)
	if len(listing.Applications) != 1 {
		t.Fatalf("expected one application, got %d", len(listing.Applications))
	}
	application := listing.Applications[0]
	if application.FirmName != "Green Basket" || application.Capital != "5-10 lakh" || application.Message != "Expanding organic range" {
		t.Fatalf("unexpected application %+v", application)
	}

	badLimit := serve(harness, authorizedRequest(http.MethodGet, "/api/admin/forms/contact?limit=abc", harness.adminToken(t)))
	if badLimit.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid limit to be rejected, got %d", badLimit.Code)
	}
}
