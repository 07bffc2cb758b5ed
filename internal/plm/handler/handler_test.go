package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-change/internal/plm/authz"
	"github.com/bitfantasy/nimo-change/internal/plm/events"
	"github.com/bitfantasy/nimo-change/internal/plm/repository"
	"github.com/bitfantasy/nimo-change/internal/plm/service"
	"github.com/bitfantasy/nimo-change/internal/plm/sse"
	"github.com/bitfantasy/nimo-change/internal/plm/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router   *gin.Engine
	hub      *sse.Hub
	owner    string
	reviewer string
	familyID string
}

func setupHandlerTest(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	testutil.SeedTestUser(t, db, "u-alice", "Alice")
	testutil.SeedTestUser(t, db, "u-rita", "Rita")
	family := testutil.SeedFamily(t, db, "F", "Fasteners", 0)

	hub := sse.NewHub(nil)
	svc := service.NewServices(repository.NewRepositories(db), service.ServiceConfig{
		PLM:       testutil.TestPLMConfig(),
		Publisher: hub,
	})
	h := NewHandlers(svc, hub)

	r := testutil.SetupRouter()
	h.RegisterRoutes(testutil.AuthGroup(r, "/api/v1"))

	return &testEnv{
		router:   r,
		hub:      hub,
		owner:    testutil.AdminToken("u-alice"),
		reviewer: testutil.AdminToken("u-rita"),
		familyID: family.ID,
	}
}

func dataOf(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %v", resp)
	return data
}

func codeOf(resp map[string]interface{}) int {
	code, _ := resp["code"].(float64)
	return int(code)
}

func (e *testEnv) createRequest(t *testing.T) string {
	t.Helper()
	w := testutil.DoRequest(e.router, "POST", "/api/v1/change-requests", map[string]interface{}{
		"description": "new fastener",
		"part_creations": []map[string]interface{}{
			{"family_id": e.familyID, "version": "A", "designation": "Bolt"},
		},
		"reviewer_ids": []string{"u-rita"},
	}, e.owner)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return dataOf(t, testutil.ParseResponse(w))["id"].(string)
}

func TestChangeRequestFlow(t *testing.T) {
	e := setupHandlerTest(t)
	id := e.createRequest(t)

	w := testutil.DoRequest(e.router, "GET", "/api/v1/change-requests/"+id, nil, e.owner)
	require.Equal(t, http.StatusOK, w.Code)
	data := dataOf(t, testutil.ParseResponse(w))
	assert.Equal(t, "CR-001", data["name"])
	assert.Equal(t, "preparation", data["cycle"])

	w = testutil.DoRequest(e.router, "POST", "/api/v1/change-requests/"+id+"/submit", nil, e.owner)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "evaluation", dataOf(t, testutil.ParseResponse(w))["cycle"])

	w = testutil.DoRequest(e.router, "GET", "/api/v1/change-requests/my-pending", nil, e.reviewer)
	require.Equal(t, http.StatusOK, w.Code)
	items := dataOf(t, testutil.ParseResponse(w))["items"].([]interface{})
	assert.Len(t, items, 1)

	w = testutil.DoRequest(e.router, "POST", "/api/v1/change-requests/"+id+"/review",
		map[string]interface{}{"decision": "approved", "comments": "ok"}, e.reviewer)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = testutil.DoRequest(e.router, "POST", "/api/v1/change-requests/"+id+"/approve", nil, e.owner)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "engineering", dataOf(t, testutil.ParseResponse(w))["cycle"])

	w = testutil.DoRequest(e.router, "GET", "/api/v1/parts", nil, e.owner)
	require.Equal(t, http.StatusOK, w.Code)
	list := dataOf(t, testutil.ParseResponse(w))
	parts := list["items"].([]interface{})
	require.Len(t, parts, 1)
	assert.Equal(t, "F001.A", parts[0].(map[string]interface{})["ref"])
	assert.Equal(t, float64(1), list["pagination"].(map[string]interface{})["total"])

	w = testutil.DoRequest(e.router, "GET", "/api/v1/change-requests/"+id+"/history", nil, e.owner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, dataOf(t, testutil.ParseResponse(w))["items"])
}

func TestChangeRequestErrors(t *testing.T) {
	e := setupHandlerTest(t)
	id := e.createRequest(t)
	readOnly := testutil.GenerateTestToken("u-rita", "Rita", []string{authz.PermChangeRead})

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		token  string
		status int
		code   int
	}{
		{"approve before submit", "POST", "/change-requests/" + id + "/approve", nil, e.owner, http.StatusConflict, 40900},
		{"missing permission", "POST", "/change-requests/" + id + "/submit", nil, readOnly, http.StatusForbidden, 40300},
		{"not the owner", "POST", "/change-requests/" + id + "/submit", nil, e.reviewer, http.StatusForbidden, 40301},
		{"unknown request", "GET", "/change-requests/missing", nil, e.owner, http.StatusNotFound, 40400},
		{"bad review body", "POST", "/change-requests/" + id + "/review", map[string]interface{}{}, e.reviewer, http.StatusBadRequest, 40000},
		{"no token", "GET", "/change-requests", nil, "", http.StatusUnauthorized, 40100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testutil.DoRequest(e.router, tt.method, "/api/v1"+tt.path, tt.body, tt.token)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, codeOf(testutil.ParseResponse(w)))
		})
	}
}

func TestApproveIncomplete(t *testing.T) {
	e := setupHandlerTest(t)
	id := e.createRequest(t)

	w := testutil.DoRequest(e.router, "POST", "/api/v1/change-requests/"+id+"/submit", nil, e.owner)
	require.Equal(t, http.StatusOK, w.Code)

	w = testutil.DoRequest(e.router, "POST", "/api/v1/change-requests/"+id+"/approve", nil, e.owner)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, 42201, codeOf(testutil.ParseResponse(w)))
}

func TestPartEndpoints(t *testing.T) {
	e := setupHandlerTest(t)

	w := testutil.DoRequest(e.router, "POST", "/api/v1/families", map[string]string{"code": "BRK", "name": "Brackets"}, e.owner)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = testutil.DoRequest(e.router, "POST", "/api/v1/families", map[string]string{"code": "BRK", "name": "Again"}, e.owner)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 40901, codeOf(testutil.ParseResponse(w)))

	w = testutil.DoRequest(e.router, "GET", "/api/v1/families", nil, e.owner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, dataOf(t, testutil.ParseResponse(w))["items"], 2)

	w = testutil.DoRequest(e.router, "POST", "/api/v1/parts",
		map[string]string{"family_id": e.familyID, "version": "A", "designation": "Nut"}, e.owner)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rev := dataOf(t, testutil.ParseResponse(w))
	partID := rev["part_id"].(string)
	revID := rev["id"].(string)
	assert.Equal(t, "edition", rev["cycle_state"])

	w = testutil.DoRequest(e.router, "POST", "/api/v1/parts/"+partID+"/revise", map[string]string{}, e.owner)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	w = testutil.DoRequest(e.router, "PUT", "/api/v1/revisions/"+revID+"/cycle", map[string]string{"cycle": "release"}, e.owner)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = testutil.DoRequest(e.router, "POST", "/api/v1/parts/"+partID+"/fork", map[string]string{}, e.owner)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = testutil.DoRequest(e.router, "GET", "/api/v1/parts/"+partID+"/revisions", nil, e.owner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, dataOf(t, testutil.ParseResponse(w))["items"], 1)

	w = testutil.DoRequest(e.router, "GET", "/api/v1/parts/"+partID, nil, e.owner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "F001.A", dataOf(t, testutil.ParseResponse(w))["ref"])

	w = testutil.DoRequest(e.router, "GET", "/api/v1/parts/export", nil, e.owner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "parts_")
	assert.NotZero(t, w.Body.Len())
}

func TestValidationEndpoints(t *testing.T) {
	e := setupHandlerTest(t)

	w := testutil.DoRequest(e.router, "POST", "/api/v1/parts",
		map[string]string{"family_id": e.familyID, "version": "A"}, e.owner)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	revID := dataOf(t, testutil.ParseResponse(w))["id"].(string)

	w = testutil.DoRequest(e.router, "POST", "/api/v1/revisions/"+revID+"/validations",
		map[string]interface{}{"reviewer_ids": []string{"u-rita"}}, e.owner)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	valID := dataOf(t, testutil.ParseResponse(w))["id"].(string)

	w = testutil.DoRequest(e.router, "POST", "/api/v1/validations/"+valID+"/close",
		map[string]string{"result": "release"}, e.owner)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, 42201, codeOf(testutil.ParseResponse(w)))

	w = testutil.DoRequest(e.router, "POST", "/api/v1/validations/"+valID+"/review",
		map[string]string{"decision": "approved"}, e.reviewer)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = testutil.DoRequest(e.router, "POST", "/api/v1/validations/"+valID+"/close",
		map[string]string{"result": "release"}, e.owner)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = testutil.DoRequest(e.router, "GET", "/api/v1/revisions/"+revID+"/validations", nil, e.owner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, dataOf(t, testutil.ParseResponse(w))["items"], 1)

	w = testutil.DoRequest(e.router, "GET", fmt.Sprintf("/api/v1/validations/%s", valID), nil, e.owner)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestListUsers(t *testing.T) {
	e := setupHandlerTest(t)

	w := testutil.DoRequest(e.router, "GET", "/api/v1/users", nil, e.owner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, dataOf(t, testutil.ParseResponse(w))["items"], 2)

	noPerm := testutil.GenerateTestToken("u-alice", "Alice", nil)
	w = testutil.DoRequest(e.router, "GET", "/api/v1/users", nil, noPerm)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// streamRecorder 可以在响应写入过程中安全读取内容
type streamRecorder struct {
	*httptest.ResponseRecorder
	mu sync.Mutex
}

func (r *streamRecorder) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(b)
}

func (r *streamRecorder) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

func (r *streamRecorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResponseRecorder.Flush()
}

func (r *streamRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

func TestEventStream(t *testing.T) {
	e := setupHandlerTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest("GET", "/api/v1/events?types=change_request&token="+e.owner, nil).WithContext(ctx)
	w := &streamRecorder{ResponseRecorder: httptest.NewRecorder()}
	done := make(chan struct{})
	go func() {
		e.router.ServeHTTP(w, req)
		close(done)
	}()
	require.Eventually(t, func() bool { return e.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, e.hub.Publish(context.Background(), events.Event{Type: events.TypePart, Name: "F009.A/1"}))
	e.createRequest(t)
	require.Eventually(t, func() bool {
		return strings.Contains(w.String(), "event:change_request_update")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after the client went away")
	}

	body := w.String()
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	assert.Contains(t, body, "event:connected")
	assert.Contains(t, body, `"name":"CR-001"`)
	assert.NotContains(t, body, "F009.A/1")
	assert.Equal(t, 0, e.hub.ClientCount())
}
