package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargrid-labs/conductor/pkg/api"
	"github.com/cleargrid-labs/conductor/pkg/connector"
	"github.com/cleargrid-labs/conductor/pkg/envelope"
	"github.com/cleargrid-labs/conductor/pkg/jobs"
	"github.com/cleargrid-labs/conductor/pkg/safety"
)

func newTestServer(t *testing.T, assessor safety.Assessor) (*api.Server, jobs.Store) {
	t.Helper()

	if assessor == nil {
		assessor = safety.AssessorFunc(func(ctx context.Context, env *envelope.CommandEnvelope) (*safety.Assessment, error) {
			return &safety.Assessment{Allowed: true}, nil
		})
	}

	db, err := jobs.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	registrations, err := connector.NewRegistrationStore(db)
	require.NoError(t, err)

	store := jobs.NewMemoryStore()
	server := api.NewServer(envelope.MustNewValidator(), safety.NewGateway(assessor), store, registrations)
	return server, store
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSubmitCommandAccepted(t *testing.T) {
	server, store := newTestServer(t, nil)

	rec := doJSON(t, server.Routes(), http.MethodPost, "/v1/commands",
		`{"orgId":"org-1","sessionId":"sess-1","commandType":"payables.invoice.create","payload":{"vendor":"acme"}}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		JobID       string `json:"jobId"`
		ContentHash string `json:"contentHash"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	assert.NotEmpty(t, resp.ContentHash)

	// The envelope landed as a pending director job (role defaulted).
	job, err := store.Get(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, job.Status)
	assert.Equal(t, envelope.RoleDirector, job.Role)
}

func TestSubmitCommandMalformedEnvelope(t *testing.T) {
	server, _ := newTestServer(t, nil)

	rec := doJSON(t, server.Routes(), http.MethodPost, "/v1/commands", `{"commandType":"x"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "orgId")
}

func TestSubmitCommandSafetyDenied(t *testing.T) {
	server, store := newTestServer(t, safety.AssessorFunc(func(ctx context.Context, env *envelope.CommandEnvelope) (*safety.Assessment, error) {
		return &safety.Assessment{Allowed: false, Reason: "outside autonomy envelope"}, nil
	}))

	rec := doJSON(t, server.Routes(), http.MethodPost, "/v1/commands",
		`{"orgId":"org-1","commandType":"payables.payment.schedule"}`)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "outside autonomy envelope")

	// Denied commands never become jobs.
	pending, err := store.ListPending(context.Background(), envelope.RoleDirector)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestClaimJobAndReportResult(t *testing.T) {
	server, _ := newTestServer(t, nil)
	mux := server.Routes()

	rec := doJSON(t, mux, http.MethodPost, "/v1/commands",
		`{"orgId":"org-1","commandType":"payables.invoice.create","targetRole":"domain"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/v1/jobs/claim", `{"workerRole":"domain","workerId":"w-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var job jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, jobs.StatusClaimed, job.Status)
	assert.Equal(t, "w-1", job.ClaimedBy)

	rec = doJSON(t, mux, http.MethodPost, fmt.Sprintf("/v1/jobs/%s/result", job.ID),
		`{"status":"completed","result":{"ok":true}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// A duplicate terminal report is a conflict, not a rewrite.
	rec = doJSON(t, mux, http.MethodPost, fmt.Sprintf("/v1/jobs/%s/result", job.ID),
		`{"status":"failed","error":"late"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/v1/jobs/"+job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var final jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &final))
	assert.Equal(t, jobs.StatusCompleted, final.Status)
}

func TestClaimJobEmptyQueue(t *testing.T) {
	server, _ := newTestServer(t, nil)

	rec := doJSON(t, server.Routes(), http.MethodPost, "/v1/jobs/claim", `{"workerRole":"domain"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestReportResultRejectsNonTerminalStatus(t *testing.T) {
	server, _ := newTestServer(t, nil)

	rec := doJSON(t, server.Routes(), http.MethodPost, "/v1/jobs/any/result", `{"status":"claimed"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportResultUnknownJob(t *testing.T) {
	server, _ := newTestServer(t, nil)

	rec := doJSON(t, server.Routes(), http.MethodPost, "/v1/jobs/nope/result", `{"status":"completed"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConnectorRegistrationLifecycle(t *testing.T) {
	server, _ := newTestServer(t, nil)
	mux := server.Routes()

	rec := doJSON(t, mux, http.MethodPost, "/v1/connectors",
		`{"orgId":"org-1","type":"erp","name":"netsuite-prod","config":{"endpoint":"https://erp.example.com"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	rec = doJSON(t, mux, http.MethodGet, "/v1/connectors?orgId=org-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Connectors []envelope.ConnectorRegistration `json:"connectors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Connectors, 1)
	assert.Equal(t, envelope.StatusInactive, listed.Connectors[0].Status)

	rec = doJSON(t, mux, http.MethodPatch, fmt.Sprintf("/v1/connectors/%s/status", created.ID), `{"status":"active"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// error is terminal; leaving it is rejected.
	rec = doJSON(t, mux, http.MethodPatch, fmt.Sprintf("/v1/connectors/%s/status", created.ID), `{"status":"error"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, mux, http.MethodPatch, fmt.Sprintf("/v1/connectors/%s/status", created.ID), `{"status":"active"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListConnectorsRequiresOrg(t *testing.T) {
	server, _ := newTestServer(t, nil)

	rec := doJSON(t, server.Routes(), http.MethodGet, "/v1/connectors", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConnectorRegistrationRejectsUnknownType(t *testing.T) {
	server, _ := newTestServer(t, nil)

	rec := doJSON(t, server.Routes(), http.MethodPost, "/v1/connectors",
		`{"orgId":"org-1","type":"blockchain","name":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, nil)

	rec := doJSON(t, server.Routes(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
