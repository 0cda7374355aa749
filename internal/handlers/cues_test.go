package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quickpayplatform/autocue/internal/models"
	"github.com/quickpayplatform/autocue/internal/service"
)

// do sends an operator-authenticated request.
func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vv := range authHeader("valid") {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	r.ServeHTTP(w, req)
	return w
}

func TestCueHandlers_RequireAuth(t *testing.T) {
	r := newTestRouter(&service.Service{Authorization: &mockAuth{}, Cues: &mockCues{}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/cues?venueId=v1", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without auth, got %d", w.Code)
	}
}

func TestCueHandlers_SubmitGetList(t *testing.T) {
	cue := &models.Cue{ID: "c1", VenueID: "v1", CueNumber: 101, Status: models.CueStatusPending, CreatedAt: testTime}
	cues := &mockCues{cue: cue, list: []models.Cue{*cue}}
	r := newTestRouter(&service.Service{Authorization: &mockAuth{parseID: 7}, Cues: cues})

	w := do(r, http.MethodPost, "/api/v1/cues",
		`{"venueId":"v1","cueNumber":101,"fadeTime":3.5,"channels":[{"channel":1,"level":50}]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit status=%d, body=%s", w.Code, w.Body.String())
	}
	if cues.lastOperatorID != 7 || cues.lastSubmit.FadeTime != 3.5 || len(cues.lastSubmit.Channels) != 1 {
		t.Fatalf("submit not forwarded: op=%d %+v", cues.lastOperatorID, cues.lastSubmit)
	}
	var got models.Cue
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil || got.ID != "c1" {
		t.Fatalf("submit body: %v %s", err, w.Body.String())
	}

	if w := do(r, http.MethodPost, "/api/v1/cues", `{"cueNumber":1}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing venueId status=%d", w.Code)
	}

	w = do(r, http.MethodGet, "/api/v1/cues/c1", "")
	if w.Code != http.StatusOK || cues.lastID != "c1" {
		t.Fatalf("get status=%d id=%q", w.Code, cues.lastID)
	}

	if w := do(r, http.MethodGet, "/api/v1/cues", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("list without venueId status=%d", w.Code)
	}
	w = do(r, http.MethodGet, "/api/v1/cues?venueId=v1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status=%d", w.Code)
	}
	var list struct {
		Count int          `json:"count"`
		Cues  []models.Cue `json:"cues"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Count != 1 || cues.lastVenue != "v1" {
		t.Fatalf("unexpected list %+v venue=%q", list, cues.lastVenue)
	}
}

func TestCueHandlers_ApproveReject(t *testing.T) {
	cue := &models.Cue{ID: "c1", Status: models.CueStatusApproved}
	cues := &mockCues{cue: cue}
	r := newTestRouter(&service.Service{Authorization: &mockAuth{parseID: 3}, Cues: cues})

	w := do(r, http.MethodPatch, "/api/v1/cues/c1/approve", `{"label":"Act 1","confirmDuplicate":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("approve status=%d body=%s", w.Code, w.Body.String())
	}
	if cues.lastApprove.Label != "Act 1" || !cues.lastApprove.ConfirmDuplicate || cues.lastOperatorID != 3 {
		t.Fatalf("approve params %+v", cues.lastApprove)
	}

	// Empty body is allowed.
	if w := do(r, http.MethodPatch, "/api/v1/cues/c1/approve", ""); w.Code != http.StatusOK {
		t.Fatalf("approve without body status=%d", w.Code)
	}

	if w := do(r, http.MethodPatch, "/api/v1/cues/c1/reject", ""); w.Code != http.StatusOK {
		t.Fatalf("reject status=%d", w.Code)
	}
}

func TestCueHandlers_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{service.ErrCueNotFound, http.StatusNotFound},
		{service.ErrCueNotPending, http.StatusConflict},
		{fmt.Errorf("%w: cue 5 in list 1", service.ErrDuplicateCueNumber), http.StatusConflict},
		{service.ErrCueNumberLocked, http.StatusForbidden},
		{fmt.Errorf("%w: level", service.ErrInvalidCue), http.StatusBadRequest},
		{errors.New("disk I/O error"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			r := newTestRouter(&service.Service{Authorization: &mockAuth{}, Cues: &mockCues{err: tc.err}})
			w := do(r, http.MethodPatch, "/api/v1/cues/c1/approve", "")
			if w.Code != tc.code {
				t.Fatalf("got %d, want %d", w.Code, tc.code)
			}
			var body map[string]string
			_ = json.Unmarshal(w.Body.Bytes(), &body)
			if tc.code == http.StatusInternalServerError && body["error"] != errInternal {
				t.Fatalf("internal error text leaked: %q", body["error"])
			}
		})
	}
}

func TestCueLogs_Filters(t *testing.T) {
	logs := []models.AuditEntry{
		{ID: "1", Type: models.AuditSubmitted, CreatedAt: testTime},
		{ID: "2", Type: models.AuditApproved, CreatedAt: testTime.Add(time.Minute)},
		{ID: "3", Type: models.AuditExecuteAttempt, CreatedAt: testTime.Add(24 * time.Hour)},
	}
	cues := &mockCues{logs: logs}
	r := newTestRouter(&service.Service{Authorization: &mockAuth{}, Cues: cues})

	if w := do(r, http.MethodGet, "/api/v1/cues/c1/logs?from=notatime", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 invalid 'from', got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/v1/cues/c1/logs?from=2025-06-03&to=2025-06-01", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", w.Code)
	}

	decode := func(w *httptest.ResponseRecorder) []models.AuditEntry {
		t.Helper()
		if w.Code != http.StatusOK {
			t.Fatalf("logs status=%d body=%s", w.Code, w.Body.String())
		}
		var out struct {
			Count int                 `json:"count"`
			Logs  []models.AuditEntry `json:"logs"`
		}
		_ = json.Unmarshal(w.Body.Bytes(), &out)
		if out.Count != len(out.Logs) {
			t.Fatalf("count mismatch %+v", out)
		}
		return out.Logs
	}

	if got := decode(do(r, http.MethodGet, "/api/v1/cues/c1/logs", "")); len(got) != 3 || cues.lastID != "c1" {
		t.Fatalf("unfiltered got %d", len(got))
	}
	// date-only 'to' covers the whole day
	if got := decode(do(r, http.MethodGet, "/api/v1/cues/c1/logs?to=2025-06-01", "")); len(got) != 2 {
		t.Fatalf("to filter got %d", len(got))
	}
	if got := decode(do(r, http.MethodGet, "/api/v1/cues/c1/logs?type=approved", "")); len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("type filter got %+v", got)
	}
}
