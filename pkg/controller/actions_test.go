package controller

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"querydash/pkg/jobs"
	"querydash/pkg/store"

	"github.com/gorilla/websocket"
)

func TestFormatQuery(t *testing.T) {
	e := newTestEnv(t)
	rec := e.request(t, http.MethodPost, "/api/queries/format", e.User, map[string]any{"query": "select a,b from t where x=1"})
	expectStatus(t, rec, http.StatusOK)

	body := decode[map[string]string](t, rec)
	expected := "SELECT a,\n       b\nFROM t\nWHERE x=1"
	if body["query"] != expected {
		t.Errorf("Format mismatch\n got: %q\nwant: %q", body["query"], expected)
	}
}

func TestForkQuery(t *testing.T) {
	e := newTestEnv(t)
	q := e.CreateQuery(func(q *store.Query) { q.Name = "Revenue"; q.Tags = []string{"finance"} })
	forker := e.CreateUser(e.Org, e.DefaultGroup)

	rec := e.request(t, http.MethodPost, queryPath(q, "/fork"), forker, nil)
	expectStatus(t, rec, http.StatusOK)

	body := decode[map[string]any](t, rec)
	if want := fmt.Sprintf("Copy of (#%d) Revenue", q.ID); body["name"] != want {
		t.Errorf("Expected name %q, got %v", want, body["name"])
	}
	if body["id"] == float64(q.ID) || body["api_key"] == q.APIKey {
		t.Errorf("Fork must be a new query with its own key: %v", body)
	}
	if user, _ := body["user"].(map[string]any); user["id"] != float64(forker.ID) {
		t.Errorf("Expected fork owned by %d, got %v", forker.ID, body["user"])
	}
	if body["can_edit"] != true {
		t.Error("Expected forker to be able to edit the fork")
	}
}

func TestForkQueryViewOnly(t *testing.T) {
	e := newTestEnv(t)
	group := e.CreateGroup(&store.Group{OrgID: e.Org.ID, Permissions: []string{"view_query"}})
	ds := e.CreateDataSource(e.Org, group, true)
	q := e.CreateQuery(func(q *store.Query) { q.DataSourceID = &ds.ID })
	viewer := e.CreateUser(e.Org, group)

	expectStatus(t, e.request(t, http.MethodGet, queryPath(q, ""), viewer, nil), http.StatusOK)
	expectStatus(t, e.request(t, http.MethodPost, queryPath(q, "/fork"), viewer, nil), http.StatusForbidden)
	expectStatus(t, e.request(t, http.MethodPost, queryPath(q, "/refresh"), viewer, nil), http.StatusForbidden)
}

// waitForJob polls the job endpoint until the job is done
func waitForJob(t *testing.T, e *testEnv, user *store.User, id string) jobs.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := e.request(t, http.MethodGet, "/api/jobs/"+id, user, nil)
		expectStatus(t, rec, http.StatusOK)
		body := decode[struct {
			Job jobs.Job `json:"job"`
		}](t, rec)
		if body.Job.Status.Done() {
			return body.Job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Job %s did not finish in time", id)
	return jobs.Job{}
}

func TestRefreshQuery(t *testing.T) {
	e := newTestEnv(t)
	q := e.CreateQuery(func(q *store.Query) { q.QueryText = "SELECT * FROM events WHERE day = '{{ day }}'" })

	rec := e.request(t, http.MethodPost, queryPath(q, "/refresh"), e.User, nil)
	expectStatus(t, rec, http.StatusBadRequest)
	if body := decode[map[string]string](t, rec); body["message"] != "Missing parameter value for: day" {
		t.Errorf("Unexpected message %q", body["message"])
	}

	rec = e.request(t, http.MethodPost, queryPath(q, "/refresh?p_day=2026-01-01"), e.User, nil)
	expectStatus(t, rec, http.StatusOK)
	body := decode[struct {
		Job jobs.Job `json:"job"`
	}](t, rec)
	if body.Job.ID == "" || body.Job.QueryID != q.ID {
		t.Fatalf("Unexpected job: %+v", body.Job)
	}

	job := waitForJob(t, e, e.User, body.Job.ID)
	if job.Status != jobs.StatusSuccess || job.QueryResultID == 0 {
		t.Fatalf("Expected successful job with a result, got %+v", job)
	}

	// rendered text hashes differently from the stored template
	query := decode[map[string]any](t, e.request(t, http.MethodGet, queryPath(q, ""), e.User, nil))
	if query["latest_query_data_id"] != nil {
		t.Errorf("Expected parameterized query to keep no latest result, got %v", query["latest_query_data_id"])
	}
}

func TestRefreshUpdatesLatestResult(t *testing.T) {
	e := newTestEnv(t)
	q := e.CreateQuery(nil)
	sameText := e.CreateQuery(nil)

	rec := e.request(t, http.MethodPost, queryPath(q, "/refresh"), e.User, nil)
	expectStatus(t, rec, http.StatusOK)
	body := decode[struct {
		Job jobs.Job `json:"job"`
	}](t, rec)

	job := waitForJob(t, e, e.User, body.Job.ID)
	if job.Status != jobs.StatusSuccess {
		t.Fatalf("Expected success, got %+v", job)
	}

	for _, query := range []*store.Query{q, sameText} {
		got := decode[map[string]any](t, e.request(t, http.MethodGet, queryPath(query, ""), e.User, nil))
		if got["latest_query_data_id"] != float64(job.QueryResultID) {
			t.Errorf("Query %d: expected latest_query_data_id %d, got %v", query.ID, job.QueryResultID, got["latest_query_data_id"])
		}
	}
}

func TestRefreshQueryRejected(t *testing.T) {
	e := newTestEnv(t)
	q := e.CreateQuery(nil)
	noDataSource := e.CreateQuery(func(q *store.Query) { q.DataSourceID = nil })
	admin := e.CreateAdmin()

	rec := e.request(t, http.MethodPost, queryPath(q, "/refresh"), &store.User{APIKey: q.APIKey}, nil)
	expectStatus(t, rec, http.StatusForbidden)
	if body := decode[map[string]string](t, rec); body["message"] != "Please use a user API key." {
		t.Errorf("Unexpected message %q", body["message"])
	}

	expectStatus(t, e.request(t, http.MethodPost, queryPath(noDataSource, "/refresh"), admin, nil), http.StatusBadRequest)
}

func TestJobsAreOrgScoped(t *testing.T) {
	e := newTestEnv(t)
	q := e.CreateQuery(nil)

	otherOrg := e.CreateOrg("other")
	otherDefault, _ := e.CreateOrgGroups(otherOrg)
	outsider := e.CreateUser(otherOrg, otherDefault)

	rec := e.request(t, http.MethodPost, queryPath(q, "/refresh"), e.User, nil)
	expectStatus(t, rec, http.StatusOK)
	body := decode[struct {
		Job jobs.Job `json:"job"`
	}](t, rec)

	expectStatus(t, e.request(t, http.MethodGet, "/api/jobs/"+body.Job.ID, outsider, nil), http.StatusNotFound)
	expectStatus(t, e.request(t, http.MethodDelete, "/api/jobs/"+body.Job.ID, outsider, nil), http.StatusNotFound)
	expectStatus(t, e.request(t, http.MethodGet, "/api/jobs/unknown", e.User, nil), http.StatusNotFound)

	job := waitForJob(t, e, e.User, body.Job.ID)
	rec = e.request(t, http.MethodDelete, "/api/jobs/"+job.ID, e.User, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[struct {
		Job jobs.Job `json:"job"`
	}](t, rec); got.Job.Status != job.Status {
		t.Errorf("Cancelling a finished job changed its status to %v", got.Job.Status)
	}
}

func TestJobsWebSocket(t *testing.T) {
	e := newTestEnv(t)
	q := e.CreateQuery(nil)

	server := httptest.NewServer(e.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/jobs/ws?api_key=" + e.User.APIKey
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	// the handler registers the client after the upgrade completes
	deadline := time.Now().Add(5 * time.Second)
	for {
		e.controller.clientsMutex.RLock()
		n := len(e.controller.clients)
		e.controller.clientsMutex.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Client was never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec := e.request(t, http.MethodPost, queryPath(q, "/refresh"), e.User, nil)
	expectStatus(t, rec, http.StatusOK)
	body := decode[struct {
		Job jobs.Job `json:"job"`
	}](t, rec)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var statuses []jobs.Status
	for {
		var msg struct {
			Type string   `json:"type"`
			Data jobs.Job `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Failed to read event (seen %v): %v", statuses, err)
		}
		if msg.Type != "job" || msg.Data.ID != body.Job.ID {
			continue
		}
		statuses = append(statuses, msg.Data.Status)
		if msg.Data.Status.Done() {
			break
		}
	}

	if last := statuses[len(statuses)-1]; last != jobs.StatusSuccess {
		t.Errorf("Expected final status success, got %v (events %v)", last, statuses)
	}
}

func TestJobsWebSocketRequiresAuth(t *testing.T) {
	e := newTestEnv(t)
	server := httptest.NewServer(e.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/jobs/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Expected dial to fail without credentials")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %v", resp)
	}
}
