package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/jobboard/app/registry"
)

type listenerMock struct {
	mu   sync.Mutex
	jobs []registry.Job
}

func (l *listenerMock) OnJobAdded(job registry.Job) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs = append(l.jobs, job)
}

func newTestServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	srv, err := New(Config{Registry: reg, Version: "test"})
	require.NoError(t, err)
	return srv, reg
}

func postJob(srv *Server, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.handleAddJob(w, req)
	return w
}

func listJobs(srv *Server) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/jobs", http.NoBody)
	w := httptest.NewRecorder()
	srv.handleListJobs(w, req)
	return w
}

func TestHandleListJobs_Empty(t *testing.T) {
	srv, _ := newTestServer(t)
	w := listJobs(srv)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestHandleAddJob(t *testing.T) {
	srv, reg := newTestServer(t)

	w := postJob(srv, `{"name":"build"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"Job added"}`, w.Body.String())
	assert.Equal(t, 1, reg.Len())

	w = listJobs(srv)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"name":"build","id":1}]`, w.Body.String())
}

func TestHandleAddJob_Sequential(t *testing.T) {
	srv, _ := newTestServer(t)

	require.Equal(t, http.StatusCreated, postJob(srv, `{"x":1}`).Code)
	require.Equal(t, http.StatusCreated, postJob(srv, `{"y":2}`).Code)

	w := listJobs(srv)
	assert.JSONEq(t, `[{"x":1,"id":1},{"y":2,"id":2}]`, w.Body.String())
}

func TestHandleAddJob_NInsertsInOrder(t *testing.T) {
	srv, _ := newTestServer(t)

	titles := []string{"Senior Frontend Developer", "Product Manager", "UX Designer", "SRE", "Data Engineer"}
	for _, title := range titles {
		body, err := json.Marshal(map[string]any{"title": title, "remote": true})
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, postJob(srv, string(body)).Code)
	}

	var jobs []map[string]any
	require.NoError(t, json.Unmarshal(listJobs(srv).Body.Bytes(), &jobs))
	require.Len(t, jobs, len(titles))
	for i, j := range jobs {
		assert.Equal(t, titles[i], j["title"])
		assert.InDelta(t, float64(i+1), j["id"], 0)
		assert.Equal(t, true, j["remote"])
	}
}

func TestHandleAddJob_OverwritesID(t *testing.T) {
	srv, _ := newTestServer(t)

	require.Equal(t, http.StatusCreated, postJob(srv, `{"name":"a","id":42}`).Code)
	require.Equal(t, http.StatusCreated, postJob(srv, `{"name":"b","id":"custom"}`).Code)

	assert.JSONEq(t, `[{"name":"a","id":1},{"name":"b","id":2}]`, listJobs(srv).Body.String())
}

func TestHandleAddJob_PreservesValues(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"big":12345678901234567890,"price":19.99,"tags":["go","api"],"meta":{"level":3,"ok":null}}`
	require.Equal(t, http.StatusCreated, postJob(srv, body).Code)

	assert.JSONEq(t, `[{"big":12345678901234567890,"price":19.99,"tags":["go","api"],"meta":{"level":3,"ok":null},"id":1}]`,
		listJobs(srv).Body.String())
	assert.Contains(t, listJobs(srv).Body.String(), "12345678901234567890", "large numbers kept exact")
}

func TestHandleAddJob_Invalid(t *testing.T) {
	tbl := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"empty body", "", "empty request body"},
		{"whitespace body", "  \n", "empty request body"},
		{"not json", "name=build", "invalid job"},
		{"broken json", `{"name":`, "invalid job"},
		{"null", "null", "got null"},
		{"array", `[{"name":"build"}]`, "invalid job"},
		{"string", `"build"`, "invalid job"},
		{"number", `42`, "invalid job"},
		{"trailing data", `{"a":1}{"b":2}`, "unexpected data"},
		{"trailing garbage", `{"a":1} xyz`, "unexpected data"},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			srv, reg := newTestServer(t)
			w := postJob(srv, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Contains(t, resp.Error, tt.wantErr)
			assert.Equal(t, 0, reg.Len(), "registry must not change on failure")
		})
	}
}

func TestHandleAddJob_NoBody(t *testing.T) {
	srv, reg := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/jobs", http.NoBody)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.handleAddJob(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, reg.Len())
}

func TestHandleAddJob_ContentType(t *testing.T) {
	tbl := []struct {
		name        string
		contentType string
		wantCode    int
	}{
		{"missing", "", http.StatusUnsupportedMediaType},
		{"form", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"text", "text/plain", http.StatusUnsupportedMediaType},
		{"json", "application/json", http.StatusCreated},
		{"json with charset", "application/json; charset=utf-8", http.StatusCreated},
		{"json upper case", "Application/JSON", http.StatusCreated},
		{"structured json", "application/vnd.api+json", http.StatusCreated},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			srv, reg := newTestServer(t)
			req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{"a":1}`))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			srv.handleAddJob(w, req)
			assert.Equal(t, tt.wantCode, w.Code)

			if tt.wantCode != http.StatusCreated {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Contains(t, resp.Error, "application/json")
				assert.Equal(t, 0, reg.Len(), "registry must not change on failure")
				return
			}
			assert.Equal(t, 1, reg.Len())
		})
	}
}

func TestHandleAddJob_Listener(t *testing.T) {
	lst := &listenerMock{}
	srv, err := New(Config{Registry: registry.New(), Listener: lst})
	require.NoError(t, err)

	require.Equal(t, http.StatusCreated, postJob(srv, `{"name":"build"}`).Code)
	require.Equal(t, http.StatusBadRequest, postJob(srv, `not json`).Code)

	lst.mu.Lock()
	defer lst.mu.Unlock()
	require.Len(t, lst.jobs, 1, "listener called only for added jobs")
	assert.Equal(t, "build", lst.jobs[0]["name"])
	assert.Equal(t, 1, lst.jobs[0].ID())
}

func TestDecodeJob(t *testing.T) {
	job, err := decodeJob(strings.NewReader(`{"n":1.5,"s":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("1.5"), job["n"])
	assert.Equal(t, "x", job["s"])

	_, err = decodeJob(nil)
	require.Error(t, err)
}
