package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"fieldops-portal/internal/auth"
	"fieldops-portal/internal/billing"
	"fieldops-portal/internal/bulk"
	"fieldops-portal/internal/checklist"
	"fieldops-portal/internal/config"
	"fieldops-portal/internal/evidence"
	"fieldops-portal/internal/faults"
	"fieldops-portal/internal/models"
	"fieldops-portal/internal/payout"
	"fieldops-portal/internal/statemachine"
	"fieldops-portal/internal/store"
)

const (
	adminToken  = "tok-admin"
	workerToken = "tok-worker"
)

type nullUploader struct{}

func (nullUploader) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	return "/stored/" + key, nil
}

func newTestServer(t *testing.T) (*store.Memory, http.Handler) {
	t.Helper()
	mem := store.NewMemory()
	log := zerolog.Nop()
	sm := statemachine.New(mem, log)
	actions := bulk.NewActions(mem, sm, log)

	srv := New(config.Config{}, Deps{
		DB:        mem,
		Machine:   sm,
		Checklist: checklist.NewEngine(mem, sm, log),
		Actions:   actions,
		Bulk:      bulk.NewEngine(mem, actions, log),
		Billing:   billing.NewService(mem, log),
		Payout:    payout.NewService(mem, sm, log),
		Evidence:  evidence.NewService(mem, nullUploader{}, nil, 1<<20, log),
		Resolver: auth.StaticResolver{
			adminToken:  {ID: "admin-1", Role: models.RoleAdmin},
			workerToken: {ID: "user-1", Role: models.RoleWorker, WorkerID: "worker-1"},
		},
	}, log)
	return mem, srv.Router()
}

func doRequest(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	return env
}

func TestAuthGatesEveryRoute(t *testing.T) {
	_, h := newTestServer(t)

	if rec := doRequest(t, h, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}

	rec := doRequest(t, h, http.MethodGet, "/jobs", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Success || env.Error == nil || env.Error.Code != faults.CodeUnauthorized {
		t.Fatalf("envelope = %+v", env)
	}

	if rec := doRequest(t, h, http.MethodGet, "/jobs", "tok-bogus", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d", rec.Code)
	}
}

func TestCreateAndFetchJob(t *testing.T) {
	mem, h := newTestServer(t)
	mem.Sites["site-1"] = models.Site{ID: "site-1", ClientID: "client-1"}

	rec := doRequest(t, h, http.MethodPost, "/jobs", adminToken, map[string]any{
		"site_id":               "site-1",
		"client_id":             "client-1",
		"scheduled_start":       "2026-03-10T09:00:00Z",
		"scheduled_end":         "2026-03-10T11:00:00Z",
		"assignee":              map[string]string{"kind": "worker", "id": "worker-1"},
		"billable_amount_cents": 8500,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d (%s)", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	created, _ := env.Data.(map[string]any)
	jobID, _ := created["id"].(string)
	if jobID == "" {
		t.Fatalf("no job id in %+v", env.Data)
	}
	if created["status"] != string(models.JobScheduled) {
		t.Fatalf("status = %v", created["status"])
	}

	// The assigned worker can read it; strangers get 404s as usual.
	if rec := doRequest(t, h, http.MethodGet, "/jobs/"+jobID, workerToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("worker get = %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodGet, "/jobs/missing", adminToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing get = %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error == nil || env.Error.Code != faults.CodeNotFound {
		t.Fatalf("envelope = %+v", env)
	}

	// Workers cannot create jobs.
	if rec := doRequest(t, h, http.MethodPost, "/jobs", workerToken, map[string]any{
		"site_id": "site-1", "client_id": "client-1",
	}); rec.Code != http.StatusForbidden {
		t.Fatalf("worker create = %d", rec.Code)
	}
	// An unknown site is refused.
	if rec := doRequest(t, h, http.MethodPost, "/jobs", adminToken, map[string]any{
		"site_id":         "site-ghost",
		"client_id":       "client-1",
		"scheduled_start": "2026-03-10T09:00:00Z",
		"scheduled_end":   "2026-03-10T11:00:00Z",
	}); rec.Code != http.StatusNotFound {
		t.Fatalf("ghost site = %d", rec.Code)
	}
}

func TestListJobsScopesWorkers(t *testing.T) {
	mem, h := newTestServer(t)
	mem.Seed(func(tx store.Tx) {
		ctx := context.Background()
		_ = tx.CreateJob(ctx, models.Job{ID: "job-mine", Status: models.JobScheduled, Assignee: models.WorkerAssignee("worker-1")})
		_ = tx.CreateJob(ctx, models.Job{ID: "job-theirs", Status: models.JobScheduled, Assignee: models.WorkerAssignee("worker-2")})
	})

	rec := doRequest(t, h, http.MethodGet, "/jobs", workerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	jobs, _ := env.Data.([]any)
	if len(jobs) != 1 {
		t.Fatalf("worker sees %d jobs", len(jobs))
	}
	first, _ := jobs[0].(map[string]any)
	if first["id"] != "job-mine" {
		t.Fatalf("worker sees %v", first["id"])
	}

	rec = doRequest(t, h, http.MethodGet, "/jobs", adminToken, nil)
	env = decodeEnvelope(t, rec)
	if jobs, _ := env.Data.([]any); len(jobs) != 2 {
		t.Fatalf("admin sees %d jobs", len(jobs))
	}
}

func TestApproveRejectOverHTTP(t *testing.T) {
	mem, h := newTestServer(t)
	mem.Seed(func(tx store.Tx) {
		ctx := context.Background()
		_ = tx.CreateJob(ctx, models.Job{ID: "job-1", Status: models.JobPendingApproval, Assignee: models.WorkerAssignee("worker-1")})
	})

	// Role failure maps to 403.
	if rec := doRequest(t, h, http.MethodPost, "/jobs/job-1/approve", workerToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("worker approve = %d", rec.Code)
	}
	// Reject without a reason maps to 400.
	if rec := doRequest(t, h, http.MethodPost, "/jobs/job-1/reject", adminToken, map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("reject without reason = %d", rec.Code)
	}

	if rec := doRequest(t, h, http.MethodPost, "/jobs/job-1/approve", adminToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("approve = %d (%s)", rec.Code, rec.Body.String())
	}
	if got := mem.Jobs["job-1"].Status; got != models.JobApprovedPayable {
		t.Fatalf("job = %s", got)
	}

	// An illegal re-approve maps to 409.
	if rec := doRequest(t, h, http.MethodPost, "/jobs/job-1/approve", adminToken, nil); rec.Code != http.StatusConflict {
		t.Fatalf("double approve = %d", rec.Code)
	}
}

func TestBulkEndpoints(t *testing.T) {
	mem, h := newTestServer(t)
	mem.Seed(func(tx store.Tx) {
		ctx := context.Background()
		_ = tx.CreateJob(ctx, models.Job{ID: "job-1", Status: models.JobPendingApproval, Assignee: models.WorkerAssignee("worker-1")})
		_ = tx.CreateJob(ctx, models.Job{ID: "job-2", Status: models.JobScheduled, Assignee: models.WorkerAssignee("worker-1")})
	})

	rec := doRequest(t, h, http.MethodPost, "/bulk/preview", adminToken, map[string]any{
		"entity": "job",
		"action": "approve",
		"ids":    []string{"job-1", "job-2"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("preview = %d (%s)", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	preview, _ := env.Data.(map[string]any)
	if valid, _ := preview["valid"].([]any); len(valid) != 1 {
		t.Fatalf("preview valid = %v", preview["valid"])
	}

	rec = doRequest(t, h, http.MethodPost, "/bulk/execute", adminToken, map[string]any{
		"entity": "job",
		"action": "approve",
		"ids":    []string{"job-1", "job-2"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("execute = %d", rec.Code)
	}
	env = decodeEnvelope(t, rec)
	result, _ := env.Data.(map[string]any)
	if result["operation_id"] == "" || result["operation_id"] == nil {
		t.Fatalf("result = %+v", result)
	}
	if succeeded, _ := result["succeeded"].([]any); len(succeeded) != 1 {
		t.Fatalf("succeeded = %v", result["succeeded"])
	}
	if failed, _ := result["failed"].([]any); len(failed) != 1 {
		t.Fatalf("failed = %v", result["failed"])
	}
}

func TestAuditEndpointIsAdminOnly(t *testing.T) {
	mem, h := newTestServer(t)
	mem.Seed(func(tx store.Tx) {
		ctx := context.Background()
		_ = tx.CreateJob(ctx, models.Job{ID: "job-1", Status: models.JobPendingApproval, Assignee: models.WorkerAssignee("worker-1")})
	})
	if rec := doRequest(t, h, http.MethodPost, "/jobs/job-1/approve", adminToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("approve = %d", rec.Code)
	}

	rec := doRequest(t, h, http.MethodGet, "/jobs/job-1/audit", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit = %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	entries, _ := env.Data.([]any)
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d", len(entries))
	}

	if rec := doRequest(t, h, http.MethodGet, "/jobs/job-1/audit", workerToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("worker audit = %d", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodGet, "/audit/job/job-1", workerToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("worker generic audit = %d", rec.Code)
	}
}

func TestIncidentFlowOverHTTP(t *testing.T) {
	_, h := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/incidents", workerToken, map[string]any{
		"site_id": "site-1",
		"summary": "broken window at entrance",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d (%s)", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	inc, _ := env.Data.(map[string]any)
	incID, _ := inc["id"].(string)
	if inc["reported_by_id"] != "user-1" {
		t.Fatalf("reporter = %v", inc["reported_by_id"])
	}

	// Workers cannot resolve.
	if rec := doRequest(t, h, http.MethodPost, "/incidents/"+incID+"/resolve", workerToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("worker resolve = %d", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodPost, "/incidents/"+incID+"/resolve", adminToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("resolve = %d", rec.Code)
	}
	// Resolving twice maps to 409.
	if rec := doRequest(t, h, http.MethodPost, "/incidents/"+incID+"/resolve", adminToken, nil); rec.Code != http.StatusConflict {
		t.Fatalf("double resolve = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/incidents?resolved=false", adminToken, nil)
	env = decodeEnvelope(t, rec)
	if open, _ := env.Data.([]any); len(open) != 0 {
		t.Fatalf("open incidents = %d", len(open))
	}
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	_, h := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/bulk/preview", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body = %d", rec.Code)
	}
}
