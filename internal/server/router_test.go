package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maruel/arena/internal/clans"
	"github.com/maruel/arena/internal/recordstore"
	"github.com/maruel/arena/internal/server/dto"
	"github.com/maruel/arena/internal/server/ratelimit"
)

func setupServer(t *testing.T, cfg *Config) http.Handler {
	t.Helper()
	db, err := recordstore.Open(filepath.Join(t.TempDir(), "db"), recordstore.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if cfg == nil {
		cfg = &Config{MaxRequestBodyBytes: 1 << 16}
	}
	return NewRouter(clans.NewService(db), cfg, "test", "json")
}

// do sends a request and decodes a JSON response into out when non-nil.
func do(t *testing.T, h http.Handler, method, path, body string, out any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if out != nil {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorCode {
	t.Helper()
	var e dto.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return e.Error.Code
}

func TestHealth(t *testing.T) {
	h := setupServer(t, nil)
	var resp dto.HealthResponse
	w := do(t, h, "GET", "/api/health", "", &resp)
	if w.Code != http.StatusOK || resp.Status != "ok" || resp.Engine != "json" || resp.Version != "test" {
		t.Errorf("health = %d %+v", w.Code, resp)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	h := setupServer(t, nil)
	var schema map[string]any
	w := do(t, h, "GET", "/api/schema/clan", "", &schema)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	props, _ := schema["properties"].(map[string]any)
	if _, ok := props["pricing"]; !ok {
		t.Errorf("schema properties = %v", props)
	}
}

func TestClanLifecycle(t *testing.T) {
	h := setupServer(t, nil)

	var clan dto.ClanResponse
	w := do(t, h, "POST", "/api/clans", `{"name":"Night Owls","tag":"owl","owner_id":"p1","trophies":50,"hireable":true,
		"pricing":[{"name":"Pro","price":20},{"name":"Basic","price":5}],"requirements":["mic","mic"]}`, &clan)
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d body %s", w.Code, w.Body)
	}
	if clan.Tag != "OWL" || len(clan.Pricing) != 2 || clan.Pricing[0].Name != "Basic" || len(clan.Requirements) != 1 {
		t.Errorf("register = %+v", clan)
	}
	do(t, h, "POST", "/api/clans", `{"name":"Bravo Bears","tag":"bb","owner_id":"p2","trophies":10}`, nil)
	do(t, h, "POST", "/api/clans", `{"name":"Charlie Cats","tag":"cc","owner_id":"p3","trophies":80}`, nil)

	t.Run("get", func(t *testing.T) {
		var got dto.ClanResponse
		if w := do(t, h, "GET", "/api/clans/"+clan.ID, "", &got); w.Code != http.StatusOK || got.ID != clan.ID {
			t.Errorf("get = %d %+v", w.Code, got)
		}
		w := do(t, h, "GET", "/api/clans/missing", "", nil)
		if w.Code != http.StatusNotFound || errorCode(t, w) != dto.ErrorCodeNotFound {
			t.Errorf("get missing = %d %s", w.Code, w.Body)
		}
	})

	t.Run("list sorted by trophies", func(t *testing.T) {
		var page dto.ListClansResponse
		do(t, h, "GET", "/api/clans", "", &page)
		var trophies []int
		for _, c := range page.Clans {
			trophies = append(trophies, c.Trophies)
		}
		if fmt.Sprint(trophies) != "[80 50 10]" || page.Total != 3 {
			t.Errorf("list trophies = %v total %d", trophies, page.Total)
		}
		do(t, h, "GET", "/api/clans?hireable=true&page_size=1", "", &page)
		if len(page.Clans) != 1 || page.Clans[0].ID != clan.ID || page.Total != 1 {
			t.Errorf("filtered list = %+v", page)
		}
		if w := do(t, h, "GET", "/api/clans?hireable=maybe", "", nil); w.Code != http.StatusBadRequest {
			t.Errorf("bad hireable status = %d", w.Code)
		}
		if w := do(t, h, "GET", "/api/clans?sort=owner_id", "", nil); w.Code != http.StatusBadRequest {
			t.Errorf("bad sort status = %d", w.Code)
		}
	})

	t.Run("list query parameters", func(t *testing.T) {
		var page dto.ListClansResponse
		do(t, h, "GET", "/api/clans?filter=tag:BB", "", &page)
		if len(page.Clans) != 1 || page.Clans[0].Tag != "BB" {
			t.Errorf("filter by tag = %+v", page)
		}
		do(t, h, "GET", "/api/clans?filter=trophies:gte:20&filter=trophies:lt:60", "", &page)
		if len(page.Clans) != 1 || page.Clans[0].ID != clan.ID {
			t.Errorf("repeated filters = %+v", page)
		}
		if w := do(t, h, "GET", "/api/clans?filter=secret:1", "", nil); w.Code != http.StatusBadRequest {
			t.Errorf("unknown filter field status = %d", w.Code)
		}
		w := do(t, h, "GET", "/api/clans?page=9223372036854775807", "", &page)
		if w.Code != http.StatusOK || len(page.Clans) != 0 || page.Total != 3 {
			t.Errorf("last int page = %d %+v", w.Code, page)
		}
		for _, path := range []string{"/api/clans?page=abc", "/api/clans?page_size=1.5", "/api/clans?min_trophies=99999999999999999999"} {
			w := do(t, h, "GET", path, "", nil)
			if w.Code != http.StatusBadRequest || errorCode(t, w) != dto.ErrorCodeInvalidFormat {
				t.Errorf("GET %s = %d %s", path, w.Code, w.Body)
			}
		}
		w = do(t, h, "DELETE", "/api/clans/"+clan.ID+"?force=yes", "", nil)
		if w.Code != http.StatusBadRequest || errorCode(t, w) != dto.ErrorCodeInvalidFormat {
			t.Errorf("bad force = %d %s", w.Code, w.Body)
		}
	})

	t.Run("update", func(t *testing.T) {
		var got dto.ClanResponse
		w := do(t, h, "PATCH", "/api/clans/"+clan.ID, `{"description":"We hoot."}`, &got)
		if w.Code != http.StatusOK || got.Description != "We hoot." || got.Name != "Night Owls" {
			t.Errorf("update = %d %+v", w.Code, got)
		}
		if w := do(t, h, "PATCH", "/api/clans/"+clan.ID, `{}`, nil); w.Code != http.StatusBadRequest {
			t.Errorf("empty update status = %d", w.Code)
		}
		if w := do(t, h, "PATCH", "/api/clans/"+clan.ID, `{"pricing":[{"name":"x","price":-1}]}`, nil); w.Code != http.StatusBadRequest {
			t.Errorf("negative price status = %d", w.Code)
		}
		if w := do(t, h, "PATCH", "/api/clans/"+clan.ID, `{"owner":"p9"}`, nil); w.Code != http.StatusBadRequest {
			t.Errorf("unknown field status = %d", w.Code)
		}
	})

	t.Run("members and applications", func(t *testing.T) {
		var m dto.MemberResponse
		if w := do(t, h, "POST", "/api/clans/"+clan.ID+"/members", `{"player_id":"p7","role":"officer"}`, &m); w.Code != http.StatusCreated || m.Role != "officer" {
			t.Fatalf("add member = %d %+v", w.Code, m)
		}
		w := do(t, h, "POST", "/api/clans/"+clan.ID+"/members", `{"player_id":"p7"}`, nil)
		if w.Code != http.StatusConflict || errorCode(t, w) != dto.ErrorCodeConflict {
			t.Errorf("duplicate member = %d %s", w.Code, w.Body)
		}
		if w := do(t, h, "POST", "/api/clans/"+clan.ID+"/members", `{}`, nil); w.Code != http.StatusBadRequest || errorCode(t, w) != dto.ErrorCodeMissingField {
			t.Errorf("missing player = %d %s", w.Code, w.Body)
		}

		var app dto.ApplicationResponse
		if w := do(t, h, "POST", "/api/clans/"+clan.ID+"/applications", `{"player_id":"p8","message":"hi"}`, &app); w.Code != http.StatusCreated || app.Status != "pending" {
			t.Fatalf("apply = %d %+v", w.Code, app)
		}
		if w := do(t, h, "POST", "/api/clans/"+clan.ID+"/applications/"+app.ID+"/decision", `{}`, nil); w.Code != http.StatusBadRequest {
			t.Errorf("decision without accept = %d", w.Code)
		}
		if w := do(t, h, "POST", "/api/clans/"+clan.ID+"/applications/"+app.ID+"/decision", `{"accept":true}`, &app); w.Code != http.StatusCreated || app.Status != "accepted" || app.Decided == "" {
			t.Errorf("decision = %d %+v", w.Code, app)
		}
		var apps dto.ListApplicationsResponse
		do(t, h, "GET", "/api/clans/"+clan.ID+"/applications?status=accepted", "", &apps)
		if len(apps.Applications) != 1 {
			t.Errorf("accepted applications = %+v", apps)
		}

		var members dto.ListMembersResponse
		do(t, h, "GET", "/api/clans/"+clan.ID+"/members", "", &members)
		if len(members.Members) != 3 {
			t.Fatalf("members = %+v, want owner, p7 and p8", members)
		}
		if w := do(t, h, "DELETE", "/api/clans/"+clan.ID+"/members/"+m.ID, "", nil); w.Code != http.StatusOK {
			t.Errorf("remove member = %d %s", w.Code, w.Body)
		}
		if w := do(t, h, "DELETE", "/api/clans/"+clan.ID+"/members/"+members.Members[0].ID, "", nil); w.Code != http.StatusBadRequest {
			t.Errorf("remove owner = %d", w.Code)
		}
	})

	t.Run("delete cascades", func(t *testing.T) {
		var ok dto.OkResponse
		if w := do(t, h, "DELETE", "/api/clans/"+clan.ID, "", &ok); w.Code != http.StatusOK || !ok.Ok {
			t.Fatalf("delete = %d %s", w.Code, w.Body)
		}
		if w := do(t, h, "GET", "/api/clans/"+clan.ID+"/members", "", nil); w.Code != http.StatusNotFound {
			t.Errorf("members after delete = %d", w.Code)
		}
		if w := do(t, h, "DELETE", "/api/clans/"+clan.ID, "", nil); w.Code != http.StatusNotFound {
			t.Errorf("second delete = %d", w.Code)
		}
	})

	t.Run("force delete", func(t *testing.T) {
		var c dto.ClanResponse
		do(t, h, "POST", "/api/clans", `{"name":"Forced Out","tag":"fo","owner_id":"p1"}`, &c)
		if w := do(t, h, "DELETE", "/api/clans/"+c.ID+"?force=true", "", nil); w.Code != http.StatusOK {
			t.Errorf("force delete = %d %s", w.Code, w.Body)
		}
		if w := do(t, h, "DELETE", "/api/clans/"+c.ID+"?force=true", "", nil); w.Code != http.StatusNotFound {
			t.Errorf("force delete of missing clan = %d", w.Code)
		}
	})
}

func TestRequestLimits(t *testing.T) {
	t.Run("body too large", func(t *testing.T) {
		h := setupServer(t, &Config{MaxRequestBodyBytes: 64})
		body := `{"name":"` + strings.Repeat("x", 100) + `","tag":"ab","owner_id":"p1"}`
		w := do(t, h, "POST", "/api/clans", body, nil)
		if w.Code != http.StatusRequestEntityTooLarge || errorCode(t, w) != dto.ErrorCodePayloadTooLarge {
			t.Errorf("status = %d %s", w.Code, w.Body)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		h := setupServer(t, nil)
		r := httptest.NewRequest("POST", "/api/clans", bytes.NewReader([]byte(`{"name":`)))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusBadRequest || errorCode(t, w) != dto.ErrorCodeInvalidFormat {
			t.Errorf("status = %d %s", w.Code, w.Body)
		}
	})

	t.Run("rate limited writes", func(t *testing.T) {
		limiters := ratelimit.NewLimiters(1, 0)
		defer limiters.Close()
		h := setupServer(t, &Config{Limiters: limiters})
		if w := do(t, h, "POST", "/api/clans", `{"name":"First","tag":"ab","owner_id":"p1"}`, nil); w.Code != http.StatusCreated {
			t.Fatalf("first write = %d %s", w.Code, w.Body)
		}
		w := do(t, h, "POST", "/api/clans", `{"name":"Second","tag":"cd","owner_id":"p1"}`, nil)
		if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
			t.Errorf("second write = %d headers %v", w.Code, w.Header())
		}
		// Reads are not limited by the write tier.
		if w := do(t, h, "GET", "/api/clans", "", nil); w.Code != http.StatusOK {
			t.Errorf("read = %d", w.Code)
		}
	})
}
