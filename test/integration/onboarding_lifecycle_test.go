package integration

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/pitabwire/onboard/internal/signing"
	"github.com/pitabwire/onboard/model"
)

// createContractor registers a third party of bt in country and a draft
// contractor under it.
func createContractor(t *testing.T, h *TestHarness, token string, country model.Country, bt model.BusinessType) model.Contractor {
	t.Helper()

	var tp model.ThirdParty
	h.AssertJSON(t, h.POST("/admin/third-parties", ThirdPartyFixture("Talent "+string(bt), country, bt), token), http.StatusCreated, &tp)

	var c model.Contractor
	h.AssertJSON(t, h.POST("/admin/contractors", ContractorFixture(tp.ID, "Jane", "Doe"), token), http.StatusCreated, &c)
	return c
}

// readyContractor creates a perm contractor and completes its data-entry
// steps, leaving it at contract_generation.
func readyContractor(t *testing.T, h *TestHarness, token string) model.Contractor {
	t.Helper()
	c := createContractor(t, h, token, model.CountryQatar, model.BusinessPerm)
	completeStep(t, h, token, c.ID, "contractor_details")
	attach(t, h, token, c.ID, model.DocPassport)
	attach(t, h, token, c.ID, model.DocCV)
	completeStep(t, h, token, c.ID, "document_upload")
	return c
}

func attach(t *testing.T, h *TestHarness, token, contractorID string, kind model.DocumentKind) {
	t.Helper()
	body := map[string]any{"kind": kind, "reference": "s3://uploads/" + contractorID + "/" + string(kind) + ".pdf"}
	h.AssertStatus(t, h.POST("/admin/contractors/"+contractorID+"/documents", body, token), http.StatusOK)
}

func completeStep(t *testing.T, h *TestHarness, token, contractorID, stepID string) {
	t.Helper()
	h.AssertStatus(t, h.POST("/admin/contractors/"+contractorID+"/steps/"+stepID+"/complete", nil, token), http.StatusOK)
}

func progressOf(t *testing.T, h *TestHarness, token, contractorID string) model.WorkflowProgress {
	t.Helper()
	var p model.WorkflowProgress
	h.AssertJSON(t, h.GET("/admin/contractors/"+contractorID+"/workflow", token), http.StatusOK, &p)
	return p
}

// ==========================================================================
// Full Lifecycle per Business Type
// ==========================================================================

func TestLifecycle_everyBusinessType(t *testing.T) {
	tests := []struct {
		country      model.Country
		businessType model.BusinessType
		documents    []model.DocumentKind
		variantStep  string
		variantDoc   model.DocumentKind
	}{
		{model.CountryQatar, model.BusinessPerm, []model.DocumentKind{model.DocPassport, model.DocCV}, "", ""},
		{model.CountrySaudiArabia, model.BusinessSaudi, []model.DocumentKind{model.DocPassport, model.DocCV, model.DocVisa}, "quote_sheets", model.DocQuoteSheet},
		{model.CountryUAE, model.BusinessUAE, []model.DocumentKind{model.DocPassport, model.DocCV, model.DocVisa}, "cohf", model.DocCOHF},
		{model.CountryQatar, model.BusinessPayroll, []model.DocumentKind{model.DocPassport, model.DocCV, model.DocNationalID}, "schedule_form", model.DocScheduleForm},
	}

	for _, tt := range tests {
		t.Run(string(tt.businessType), func(t *testing.T) {
			h := NewTestHarness(t)
			coordinator := h.GenerateToken(CoordinatorClaims())
			approver := h.GenerateToken(ApproverClaims())
			admin := h.GenerateToken(AdminClaims())

			c := createContractor(t, h, admin, tt.country, tt.businessType)
			email := c.Personal.Email

			p := progressOf(t, h, coordinator, c.ID)
			wantSteps := 7
			if tt.variantStep != "" {
				wantSteps = 8
			}
			if len(p.Steps) != wantSteps {
				t.Fatalf("workflow has %d steps, want %d: %s", len(p.Steps), wantSteps, FormatJSON(p.Steps))
			}
			if p.CurrentStepID != "contractor_details" || p.Status != model.StatusDraft {
				t.Fatalf("initial progress = %s/%s", p.Status, p.CurrentStepID)
			}

			// Admin-side preparation.
			completeStep(t, h, coordinator, c.ID, "contractor_details")
			for _, kind := range tt.documents {
				attach(t, h, coordinator, c.ID, kind)
			}
			completeStep(t, h, coordinator, c.ID, "document_upload")
			if tt.variantStep != "" {
				resp := h.POST("/admin/contractors/"+c.ID+"/steps/"+tt.variantStep+"/complete", nil, coordinator)
				h.AssertErrorCode(t, resp, http.StatusUnprocessableEntity, model.ErrValidationError)

				attach(t, h, coordinator, c.ID, tt.variantDoc)
				completeStep(t, h, coordinator, c.ID, tt.variantStep)
			}
			if p := progressOf(t, h, coordinator, c.ID); p.CurrentStepID != "contract_generation" {
				t.Fatalf("current step before send = %q, want contract_generation", p.CurrentStepID)
			}

			// Send: the link arrives by email.
			h.AssertStatus(t, h.POST("/admin/contractors/"+c.ID+"/send", nil, coordinator), http.StatusOK)
			link := h.Mailbox.LatestToken(t, email)

			// Contractor side.
			var view signing.ContractView
			h.AssertJSON(t, h.GET("/contracts/"+link, ""), http.StatusOK, &view)
			if view.BusinessType != tt.businessType {
				t.Errorf("view business type = %s", view.BusinessType)
			}
			if !strings.Contains(view.Content, "Jane Doe") {
				t.Errorf("contract content does not name the contractor:\n%s", view.Content)
			}
			h.AssertStatus(t, h.POST("/contracts/"+link+"/signature", map[string]any{"type": "typed", "data": "Jane Doe"}, ""), http.StatusOK)

			// Approval and activation.
			h.AssertStatus(t, h.POST("/admin/contractors/"+c.ID+"/activate", nil, coordinator), http.StatusForbidden)
			var active model.Contractor
			h.AssertJSON(t, h.POST("/admin/contractors/"+c.ID+"/activate", nil, approver), http.StatusOK, &active)
			if active.Status != model.StatusActive || active.ActivatedDate == nil {
				t.Errorf("after activate: status %s activated %v", active.Status, active.ActivatedDate)
			}
			if pw := h.Mailbox.TemporaryPassword(t, email); len(pw) < 12 {
				t.Errorf("temporary password %q is too short", pw)
			}

			p = progressOf(t, h, coordinator, c.ID)
			for _, s := range p.Steps {
				if s.Status != model.StepCompleted {
					t.Errorf("step %s is %s after activation", s.ID, s.Status)
				}
			}

			// Rendered contract.
			h.Materializer.Wait()
			resp := h.GET("/admin/contractors/"+c.ID+"/document", coordinator)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("document status = %d", resp.StatusCode)
			}
			if pdf := h.ReadBody(resp); !bytes.HasPrefix(pdf, []byte("%PDF-")) {
				t.Error("document is not a PDF")
			}
		})
	}
}

func TestLifecycle_auditTrail(t *testing.T) {
	h := NewTestHarness(t)
	admin := h.GenerateToken(AdminClaims())
	c := readyContractor(t, h, admin)

	h.AssertStatus(t, h.POST("/admin/contractors/"+c.ID+"/send", nil, admin), http.StatusOK)
	link := h.Mailbox.LatestToken(t, c.Personal.Email)
	h.AssertStatus(t, h.POST("/contracts/"+link+"/signature", map[string]any{"type": "typed", "data": "Jane Doe"}, ""), http.StatusOK)
	h.AssertStatus(t, h.POST("/admin/contractors/"+c.ID+"/activate", nil, admin), http.StatusOK)
	h.AssertStatus(t, h.POST("/admin/contractors/"+c.ID+"/suspend", map[string]any{"reason": "placement cancelled"}, admin), http.StatusOK)

	var events struct {
		Data []model.ContractorEvent `json:"data"`
	}
	h.AssertJSON(t, h.GET("/admin/contractors/"+c.ID+"/events", admin), http.StatusOK, &events)

	var kinds []string
	actors := map[string]string{}
	for _, e := range events.Data {
		kinds = append(kinds, e.Event)
		actors[e.Event] = e.ActorID
	}
	for _, want := range []string{
		model.EventCreated, model.EventContractSent, model.EventContractSigned,
		model.EventActivated, model.EventSuspended,
	} {
		if _, ok := actors[want]; !ok {
			t.Errorf("event %s missing from %v", want, kinds)
		}
	}
	if actors[model.EventActivated] != "user-admin" {
		t.Errorf("activated actor = %q, want user-admin", actors[model.EventActivated])
	}
}

func TestLifecycle_sendWaitsForWorkflowGates(t *testing.T) {
	h := NewTestHarness(t)
	admin := h.GenerateToken(AdminClaims())
	c := createContractor(t, h, admin, model.CountryUAE, model.BusinessUAE)
	send := func() *http.Response { return h.POST("/admin/contractors/"+c.ID+"/send", nil, admin) }

	h.AssertErrorCode(t, send(), http.StatusConflict, model.ErrInvalidState)

	completeStep(t, h, admin, c.ID, "contractor_details")
	for _, kind := range []model.DocumentKind{model.DocPassport, model.DocCV, model.DocVisa} {
		attach(t, h, admin, c.ID, kind)
	}
	completeStep(t, h, admin, c.ID, "document_upload")
	// The COHF gate is still open.
	h.AssertErrorCode(t, send(), http.StatusConflict, model.ErrInvalidState)
	if n := len(h.Mailbox.Sent(c.Personal.Email)); n != 0 {
		t.Fatalf("%d contract emails sent before the workflow allowed it", n)
	}

	attach(t, h, admin, c.ID, model.DocCOHF)
	completeStep(t, h, admin, c.ID, "cohf")
	h.AssertStatus(t, send(), http.StatusOK)

	p := progressOf(t, h, admin, c.ID)
	if p.Status != model.StatusPendingSignature || p.CurrentStepID != "contract_signature" {
		t.Errorf("after send: %s at %q, want pending_signature at contract_signature", p.Status, p.CurrentStepID)
	}
}

func TestLifecycle_inactiveThirdPartyRejectsNewContractors(t *testing.T) {
	h := NewTestHarness(t)
	admin := h.GenerateToken(AdminClaims())

	var tp model.ThirdParty
	h.AssertJSON(t, h.POST("/admin/third-parties", ThirdPartyFixture("Gulf Staffing", model.CountryUAE, model.BusinessUAE), admin), http.StatusCreated, &tp)
	h.AssertStatus(t, h.POST("/admin/third-parties/"+tp.ID+"/deactivate", nil, admin), http.StatusOK)

	resp := h.POST("/admin/contractors", ContractorFixture(tp.ID, "Omar", "Haddad"), admin)
	h.AssertErrorCode(t, resp, http.StatusConflict, model.ErrInvalidState)
}

func TestLifecycle_countryMismatchRejected(t *testing.T) {
	h := NewTestHarness(t)
	admin := h.GenerateToken(AdminClaims())

	resp := h.POST("/admin/third-parties", ThirdPartyFixture("Riyadh Crew", model.CountryQatar, model.BusinessSaudi), admin)
	h.AssertErrorCode(t, resp, http.StatusUnprocessableEntity, model.ErrValidationError)
}

func TestLifecycle_idempotentSend(t *testing.T) {
	h := NewTestHarness(t)
	admin := h.GenerateToken(AdminClaims())
	c := readyContractor(t, h, admin)

	type linkBody struct {
		SigningURL string           `json:"signing_url"`
		Contractor model.Contractor `json:"contractor"`
	}
	headers := map[string]string{"Idempotency-Key": "send-" + c.ID}
	var first, second linkBody
	h.AssertJSON(t, h.POSTWithHeaders("/admin/contractors/"+c.ID+"/send", nil, admin, headers), http.StatusOK, &first)
	resp := h.POSTWithHeaders("/admin/contractors/"+c.ID+"/send", nil, admin, headers)
	replayed := resp.Header.Get("Idempotent-Replayed")
	h.AssertJSON(t, resp, http.StatusOK, &second)

	if replayed != "true" {
		t.Error("second send was not replayed")
	}
	if first.SigningURL == "" {
		t.Error("first send returned no signing link")
	}
	if second.SigningURL != "" {
		t.Errorf("replayed send repeated the signing link %q", second.SigningURL)
	}
	if second.Contractor.Status != model.StatusPendingSignature {
		t.Errorf("replayed status = %s", second.Contractor.Status)
	}
	if n := len(h.Mailbox.Sent(c.Personal.Email)); n != 1 {
		t.Errorf("%d contract emails sent, want 1", n)
	}
}
