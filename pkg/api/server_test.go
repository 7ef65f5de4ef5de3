package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openfroyo/cloudsim/pkg/engine"
	"github.com/openfroyo/cloudsim/pkg/orchestrator"
	"github.com/openfroyo/cloudsim/pkg/policy"
	"github.com/openfroyo/cloudsim/pkg/registry"
	"github.com/openfroyo/cloudsim/pkg/telemetry"
)

const testTopology = `{
	"ec2": [{"instance_type": "t2.micro", "tags": {"Name": "web-1"}}],
	"s3": [{"bucket_name": "app-assets", "versioning": true}],
	"lambda": [{"function_name": "resize", "memory_size": 256}]
}`

func setupTestServer(t *testing.T, opts ...orchestrator.Option) (*orchestrator.Orchestrator, http.Handler) {
	t.Helper()
	orch := orchestrator.New(registry.New(), opts...)
	return orch, NewServer(orch).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func provision(t *testing.T, h http.Handler, topology string) orchestrator.Result {
	t.Helper()
	rec := doReq(t, h, http.MethodPost, "/v1/provision", strings.NewReader(topology))
	if rec.Code != http.StatusOK {
		t.Fatalf("provision: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res orchestrator.Result
	decodeBody(t, rec, &res)
	return res
}

type errorBody struct {
	Error struct {
		Class string `json:"class"`
		Code  string `json:"code"`
	} `json:"error"`
}

func TestHealthAndMetrics(t *testing.T) {
	_, h := setupTestServer(t)

	if rec := doReq(t, h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", rec.Code)
	}

	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
	if err != nil {
		t.Fatalf("NewTelemetry() error: %v", err)
	}
	orch := orchestrator.New(registry.New(), orchestrator.WithTelemetry(tel))
	mh := NewServer(orch, WithTelemetry(tel)).Handler()
	provision(t, mh, testTopology)

	rec := doReq(t, mh, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cloudsim_") {
		t.Errorf("metrics output lacks cloudsim series:\n%s", rec.Body.String())
	}
}

func TestProvisionAndStatus(t *testing.T) {
	_, h := setupTestServer(t)

	res := provision(t, h, testTopology)
	if len(res.Created) != 3 || res.RunID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	rec := doReq(t, h, http.MethodGet, "/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	var snap struct {
		Kinds map[string]struct {
			Count  int            `json:"count"`
			Totals map[string]int `json:"totals"`
		} `json:"kinds"`
	}
	decodeBody(t, rec, &snap)
	if snap.Kinds["instance"].Totals["running"] != 1 {
		t.Errorf("instance totals = %v", snap.Kinds["instance"].Totals)
	}
	if snap.Kinds["function"].Count != 1 {
		t.Errorf("function count = %d", snap.Kinds["function"].Count)
	}
}

func TestProvision_PartialAndInvalid(t *testing.T) {
	_, h := setupTestServer(t)

	rec := doReq(t, h, http.MethodPost, "/v1/provision", strings.NewReader(`{
		"rds": [{"db_instance_identifier": "good-db"}, {"db_instance_identifier": "9bad"}]
	}`))
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d: %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Created  []engine.Handle `json:"created"`
		Failures []struct {
			Code string `json:"code"`
		} `json:"failures"`
	}
	decodeBody(t, rec, &res)
	if len(res.Created) != 1 || len(res.Failures) != 1 || res.Failures[0].Code != engine.ErrCodeValidation {
		t.Errorf("unexpected partial result: %+v", res)
	}

	rec = doReq(t, h, http.MethodPost, "/v1/provision", strings.NewReader(`{"queues": []}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown kind: expected 400, got %d", rec.Code)
	}
	var eb errorBody
	decodeBody(t, rec, &eb)
	if eb.Error.Code != engine.ErrCodeValidation {
		t.Errorf("error code = %q", eb.Error.Code)
	}
}

func TestProvision_PolicyDenied(t *testing.T) {
	eng, err := policy.NewEngine(context.Background())
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	_, h := setupTestServer(t, orchestrator.WithPolicyEngine(eng))

	rec := doReq(t, h, http.MethodPost, "/v1/provision", strings.NewReader(`{
		"s3": [{"bucket_name": "open-bucket", "acl": "public-read-write", "tags": {"env": "test"}}]
	}`))
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), engine.ErrCodePolicyDenied) {
		t.Errorf("response lacks policy denial: %s", rec.Body.String())
	}
}

func TestInstanceActions(t *testing.T) {
	_, h := setupTestServer(t)
	res := provision(t, h, testTopology)
	id := res.Handles(engine.KindInstance)[0].ID

	tests := []struct {
		action   string
		wantCode int
		wantErr  string
	}{
		{action: "stop", wantCode: http.StatusOK},
		{action: "stop", wantCode: http.StatusConflict, wantErr: engine.ErrCodeInvalidStateTransition},
		{action: "start", wantCode: http.StatusOK},
		{action: "reboot", wantCode: http.StatusOK},
		{action: "explode", wantCode: http.StatusBadRequest, wantErr: engine.ErrCodeValidation},
		{action: "terminate", wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		rec := doReq(t, h, http.MethodPost, "/v1/instances/"+id+"/"+tt.action, nil)
		if rec.Code != tt.wantCode {
			t.Fatalf("%s: expected %d, got %d: %s", tt.action, tt.wantCode, rec.Code, rec.Body.String())
		}
		if tt.wantErr != "" {
			var eb errorBody
			decodeBody(t, rec, &eb)
			if eb.Error.Code != tt.wantErr {
				t.Errorf("%s: error code = %q, want %q", tt.action, eb.Error.Code, tt.wantErr)
			}
		}
	}

	rec := doReq(t, h, http.MethodGet, "/v1/instances?state=terminated", nil)
	var list struct {
		Instances []struct {
			ID    string `json:"instance_id"`
			State string `json:"state"`
		} `json:"instances"`
	}
	decodeBody(t, rec, &list)
	if len(list.Instances) != 1 || list.Instances[0].ID != id {
		t.Errorf("terminated instances = %+v", list.Instances)
	}

	if rec := doReq(t, h, http.MethodGet, "/v1/instances/i-missing", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing instance: expected 404, got %d", rec.Code)
	}
}

func TestObjects(t *testing.T) {
	_, h := setupTestServer(t)
	provision(t, h, testTopology)

	base := "/v1/buckets/app-assets/objects/"
	for _, body := range []string{"Hello World!", "Hello again"} {
		rec := doReq(t, h, http.MethodPut, base+"data/file1.txt", strings.NewReader(body),
			"Content-Type", "text/plain", "X-Meta-Content-Type", "text/plain")
		if rec.Code != http.StatusCreated {
			t.Fatalf("put: expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
	}
	doReq(t, h, http.MethodPut, base+"logs/a.log", strings.NewReader("x"))

	rec := doReq(t, h, http.MethodGet, base+"data/file1.txt", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "Hello again" {
		t.Fatalf("get latest: %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Header().Get("ETag") == "" || rec.Header().Get("X-Version-Id") == "" {
		t.Error("missing ETag or version headers")
	}

	rec = doReq(t, h, http.MethodGet, base+"data/file1.txt?version=0", nil)
	if rec.Body.String() != "Hello World!" {
		t.Errorf("version 0 = %q", rec.Body.String())
	}

	rec = doReq(t, h, http.MethodGet, "/v1/buckets/app-assets/objects?prefix=data/", nil)
	var keys struct {
		Keys []string `json:"keys"`
	}
	decodeBody(t, rec, &keys)
	if len(keys.Keys) != 1 || keys.Keys[0] != "data/file1.txt" {
		t.Errorf("keys = %v", keys.Keys)
	}

	// Deleting from a versioned bucket removes the latest version only.
	if rec := doReq(t, h, http.MethodDelete, base+"data/file1.txt", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	rec = doReq(t, h, http.MethodGet, base+"data/file1.txt", nil)
	if rec.Body.String() != "Hello World!" {
		t.Errorf("after delete = %q", rec.Body.String())
	}

	if rec := doReq(t, h, http.MethodGet, "/v1/buckets/nope/objects/x", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing bucket: expected 404, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, base+"data/file1.txt?version=abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad version: expected 400, got %d", rec.Code)
	}
}

func TestInvoke(t *testing.T) {
	_, h := setupTestServer(t)
	provision(t, h, testTopology)

	rec := doReq(t, h, http.MethodPost, "/v1/functions/resize/invoke", strings.NewReader(`{"data":"test"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("invoke: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res struct {
		StatusCode int             `json:"status_code"`
		Payload    json.RawMessage `json:"payload"`
	}
	decodeBody(t, rec, &res)
	if res.StatusCode != 200 || !bytes.Contains(res.Payload, []byte(`"test"`)) {
		t.Errorf("invoke result = %d %s", res.StatusCode, res.Payload)
	}

	rec = doReq(t, h, http.MethodPost, "/v1/functions/resize/invoke?type=Event", nil)
	decodeBody(t, rec, &res)
	if res.StatusCode != 202 {
		t.Errorf("event status = %d, want 202", res.StatusCode)
	}

	if rec := doReq(t, h, http.MethodPost, "/v1/functions/resize/invoke", strings.NewReader("{not json")); rec.Code != http.StatusBadRequest {
		t.Errorf("bad payload: expected 400, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodPost, "/v1/functions/ghost/invoke", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing function: expected 404, got %d", rec.Code)
	}
}

func TestDestroy(t *testing.T) {
	_, h := setupTestServer(t)
	res := provision(t, h, testTopology)
	doReq(t, h, http.MethodPut, "/v1/buckets/app-assets/objects/a.txt", strings.NewReader("a"))

	body, _ := json.Marshal(map[string]any{"handles": res.Created})
	rec := doReq(t, h, http.MethodPost, "/v1/destroy", bytes.NewReader(body))
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("destroy non-empty bucket: expected 207, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), engine.ErrCodeBucketNotEmpty) {
		t.Errorf("expected bucket-not-empty failure: %s", rec.Body.String())
	}

	body, _ = json.Marshal(map[string]any{"handles": res.Handles(engine.KindBucket), "force_buckets": true})
	if rec := doReq(t, h, http.MethodPost, "/v1/destroy", bytes.NewReader(body)); rec.Code != http.StatusOK {
		t.Fatalf("forced destroy: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doReq(t, h, http.MethodPost, "/v1/destroy", strings.NewReader(`{"handles": [{"kind": "queue", "id": "q-1"}]}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid kind: expected 400, got %d", rec.Code)
	}
	rec = doReq(t, h, http.MethodPost, "/v1/destroy", strings.NewReader(`{"handles": [] } trailing`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("trailing data: expected 400, got %d", rec.Code)
	}
}

func TestDestroy_IDOnlyHandle(t *testing.T) {
	orch, h := setupTestServer(t)
	res := provision(t, h, testTopology)

	fn := res.Handles(engine.KindFunction)[0]
	body, _ := json.Marshal(map[string]any{"handles": []engine.Handle{{Kind: fn.Kind, ID: fn.ID}}})
	rec := doReq(t, h, http.MethodPost, "/v1/destroy", bytes.NewReader(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("destroy by id: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := orch.Functions().GetFunction(context.Background(), "resize"); !engine.IsNotFound(err) {
		t.Errorf("function still present after destroy: %v", err)
	}
}
