package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func (ts *testServer) lookup(t *testing.T, target string) []int {
	t.Helper()
	recorder := ts.do(t, httptest.NewRequest(http.MethodGet, target, nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected lookup status %d for %s: %s", recorder.Code, target, recorder.Body.String())
	}
	var results []int
	decodeJSONBody(t, recorder, &results)
	return results
}

func TestLookupTagFindsUploadedModel(t *testing.T) {
	ts := newTestServer(t)
	token := ts.tokenFor(t, "osm-1", false)
	modelID := ts.uploadModel(t, token, "Tagged Monument")

	results := ts.lookup(t, "/api/tag/"+url.PathEscape("building=yes"))
	if len(results) != 1 || results[0] != modelID {
		t.Fatalf("expected [%d], got %v", modelID, results)
	}

	if misses := ts.lookup(t, "/api/tag/"+url.PathEscape("building=no")); len(misses) != 0 {
		t.Fatalf("expected no results for other value, got %v", misses)
	}
}

func TestLookupTagRejectsMalformedTag(t *testing.T) {
	ts := newTestServer(t)

	recorder := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/tag/notatag", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for tag without value, got %d", recorder.Code)
	}
}

func TestLookupCategoryAndTitle(t *testing.T) {
	ts := newTestServer(t)
	token := ts.tokenFor(t, "osm-1", false)
	modelID := ts.uploadModel(t, token, "Old Town Hall")

	if results := ts.lookup(t, "/api/category/monuments"); len(results) != 1 || results[0] != modelID {
		t.Fatalf("expected category match, got %v", results)
	}
	if results := ts.lookup(t, "/api/title/"+url.PathEscape("Town")); len(results) != 1 || results[0] != modelID {
		t.Fatalf("expected title substring match, got %v", results)
	}
}

func TestLookupAuthorAcceptsUIDOrDisplayName(t *testing.T) {
	ts := newTestServer(t)
	token := ts.tokenFor(t, "osm-1", false)
	modelID := ts.uploadModel(t, token, "Attributed")

	if results := ts.lookup(t, "/api/author/osm-1"); len(results) != 1 || results[0] != modelID {
		t.Fatalf("expected uid lookup to match, got %v", results)
	}
	if results := ts.lookup(t, "/api/author/"+url.PathEscape("User osm-1")); len(results) != 1 || results[0] != modelID {
		t.Fatalf("expected display-name lookup to match, got %v", results)
	}
	if results := ts.lookup(t, "/api/author/nobody"); len(results) != 0 {
		t.Fatalf("expected unknown author to match nothing, got %v", results)
	}
}

func TestLookupRangeRequiresAllParameters(t *testing.T) {
	ts := newTestServer(t)

	recorder := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/range?lat=48.8", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without lon and distance, got %d", recorder.Code)
	}
}

func TestSearchCombinesFilters(t *testing.T) {
	ts := newTestServer(t)
	token := ts.tokenFor(t, "osm-1", false)
	matching := ts.uploadModel(t, token, "Eiffel Tower")
	ts.uploadModel(t, token, "Another Monument")

	recorder := ts.do(t, jsonRequest(t, http.MethodPost, "/api/search", map[string]interface{}{
		"author": "osm-1",
		"title":  "Eiffel",
		"tags":   map[string]string{"building": "yes"},
	}))
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected search status %d: %s", recorder.Code, recorder.Body.String())
	}
	var results []int
	decodeJSONBody(t, recorder, &results)
	if len(results) != 1 || results[0] != matching {
		t.Fatalf("expected [%d], got %v", matching, results)
	}
}

func TestSearchRejectsPartialLocation(t *testing.T) {
	ts := newTestServer(t)

	recorder := ts.do(t, jsonRequest(t, http.MethodPost, "/api/search", map[string]interface{}{
		"lat": 48.8,
	}))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for partial location, got %d", recorder.Code)
	}
}

func TestSearchRejectsNegativePage(t *testing.T) {
	ts := newTestServer(t)

	recorder := ts.do(t, jsonRequest(t, http.MethodPost, "/api/search", map[string]interface{}{
		"page": -1,
	}))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative page, got %d", recorder.Code)
	}
}

func TestLookupPaginationBeyondLastPageIsEmpty(t *testing.T) {
	ts := newTestServer(t)
	token := ts.tokenFor(t, "osm-1", false)
	ts.uploadModel(t, token, "Only Model")

	if results := ts.lookup(t, "/api/category/monuments?page=2"); len(results) != 0 {
		t.Fatalf("expected empty page beyond last, got %v", results)
	}
}

func TestSearchLocationFilter(t *testing.T) {
	ts := newTestServer(t)
	token := ts.tokenFor(t, "osm-1", false)

	placed := sampleUploadMetadata("Placed Monument")
	placed["lat"] = 48.8584
	placed["lon"] = 2.2945
	recorder := ts.do(t, withBearer(uploadRequest(t, "/api/upload", placed, glbFileContent()), token))
	if recorder.Code != http.StatusOK {
		t.Fatalf("upload failed: %s", recorder.Body.String())
	}
	var uploaded struct {
		ModelID int `json:"model_id"`
	}
	decodeJSONBody(t, recorder, &uploaded)
	ts.uploadModel(t, token, "Unplaced Monument")

	results := ts.lookup(t, fmt.Sprintf("/api/range?lat=%f&lon=%f&distance=%f", 48.8584, 2.2945, 1000.0))
	if len(results) != 1 || results[0] != uploaded.ModelID {
		t.Fatalf("expected only the placed model, got %v", results)
	}
}
