package api

import (
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openfroyo/cloudsim/pkg/compute"
	"github.com/openfroyo/cloudsim/pkg/config"
	"github.com/openfroyo/cloudsim/pkg/engine"
	"github.com/openfroyo/cloudsim/pkg/functions"
	"github.com/openfroyo/cloudsim/pkg/orchestrator"
	"github.com/openfroyo/cloudsim/pkg/storage"
)

// MetadataHeaderPrefix marks request headers stored as object metadata.
const MetadataHeaderPrefix = "X-Meta-"

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleProvision accepts a topology document. A run that created every spec
// answers 200; a run with failures or skipped specs answers 207 with the same
// body.
func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, r, "failed to read request body", err)
		return
	}
	topo, err := config.ParseTopology(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.orch.Provision(orchestrator.ContextWithSource(r.Context(), "api"), topo)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !result.OK() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, result)
}

type destroyRequest struct {
	Handles      []engine.Handle `json:"handles"`
	ForceBuckets bool            `json:"force_buckets"`
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	var req destroyRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, "invalid destroy request", err)
		return
	}
	for i, h := range req.Handles {
		if err := h.Kind.Validate(); err != nil {
			badRequest(w, r, "handles["+strconv.Itoa(i)+"] has an invalid kind", err)
			return
		}
		if h.ID == "" && h.Name == "" {
			badRequest(w, r, "handles["+strconv.Itoa(i)+"] needs an id or a name", nil)
			return
		}
	}

	report := s.orch.Destroy(orchestrator.ContextWithSource(r.Context(), "api"), req.Handles,
		orchestrator.DestroyOptions{ForceBuckets: req.ForceBuckets})
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.orch.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleListInstances lists instances, optionally filtered by
// ?state=running,stopped.
func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	var states []engine.State
	if q := r.URL.Query().Get("state"); q != "" {
		for part := range strings.SplitSeq(q, ",") {
			if part = strings.TrimSpace(part); part != "" {
				states = append(states, engine.State(part))
			}
		}
	}
	list := slices.Collect(s.orch.Instances().ListInstances(r.Context(), states...))
	if list == nil {
		list = []*compute.Instance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": list})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.orch.Instances().GetInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleInstanceAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	instances := s.orch.Instances()

	var (
		res any
		err error
	)
	switch action := chi.URLParam(r, "action"); action {
	case "stop":
		res, err = instances.StopInstance(ctx, id)
	case "start":
		res, err = instances.StartInstance(ctx, id)
	case "reboot":
		res, err = instances.RebootInstance(ctx, id)
	case "terminate":
		res, err = instances.TerminateInstance(ctx, id)
	case "tags":
		var tags map[string]string
		if derr := decodeJSON(r, &tags); derr != nil {
			badRequest(w, r, "tags must be a JSON object of strings", derr)
			return
		}
		res, err = instances.TagInstance(ctx, id, tags)
	default:
		badRequest(w, r, "unknown instance action "+strconv.Quote(action), nil)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetBucket(w http.ResponseWriter, r *http.Request) {
	b, err := s.orch.Buckets().GetBucket(r.Context(), chi.URLParam(r, "bucket"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	keys, err := s.orch.Buckets().ListObjects(r.Context(), chi.URLParam(r, "bucket"), r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	list := slices.Collect(keys)
	if list == nil {
		list = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": list})
}

func objectKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "*")
	if key == "" {
		badRequest(w, r, "object key is required", nil)
		return "", false
	}
	return key, true
}

// handlePutObject stores the raw request body. X-Meta-* headers become
// object metadata with the prefix stripped and the name lower-cased.
func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request) {
	key, ok := objectKey(w, r)
	if !ok {
		return
	}
	content, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, r, "failed to read object body", err)
		return
	}

	var meta map[string]string
	for name, values := range r.Header {
		if after, found := strings.CutPrefix(name, MetadataHeaderPrefix); found && after != "" && len(values) > 0 {
			if meta == nil {
				meta = make(map[string]string)
			}
			meta[strings.ToLower(after)] = values[0]
		}
	}

	v, err := s.orch.Buckets().PutObject(r.Context(), chi.URLParam(r, "bucket"), key, content, meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// handleGetObject returns the latest content, or the ?version=N revision
// where 0 is the oldest retained version.
func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	key, ok := objectKey(w, r)
	if !ok {
		return
	}
	bucket := chi.URLParam(r, "bucket")
	buckets := s.orch.Buckets()

	var (
		v   *storage.ObjectVersion
		err error
	)
	if q := r.URL.Query().Get("version"); q != "" {
		idx, perr := strconv.Atoi(q)
		if perr != nil {
			badRequest(w, r, "version must be an integer", perr)
			return
		}
		v, err = buckets.GetObjectVersion(r.Context(), bucket, key, idx)
	} else {
		v, err = buckets.GetObject(r.Context(), bucket, key)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	h := w.Header()
	for name, value := range v.Metadata {
		h.Set(MetadataHeaderPrefix+name, value)
	}
	h.Set("Content-Type", "application/octet-stream")
	if ct, ok := v.Metadata["content-type"]; ok {
		h.Set("Content-Type", ct)
	}
	h.Set("ETag", strconv.Quote(v.ETag))
	h.Set("X-Version-Id", v.VersionID)
	h.Set("Content-Length", strconv.Itoa(len(v.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(v.Content)
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	key, ok := objectKey(w, r)
	if !ok {
		return
	}
	if err := s.orch.Buckets().DeleteObject(r.Context(), chi.URLParam(r, "bucket"), key); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetFunction(w http.ResponseWriter, r *http.Request) {
	fn, err := s.orch.Functions().GetFunction(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fn)
}

// handleInvoke passes the raw body as the payload. The invocation type comes
// from ?type= or the X-Invocation-Type header.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, r, "failed to read payload", err)
		return
	}
	typ := r.URL.Query().Get("type")
	if typ == "" {
		typ = r.Header.Get("X-Invocation-Type")
	}

	res, err := s.orch.Functions().Invoke(r.Context(), chi.URLParam(r, "name"), json.RawMessage(payload), functions.InvocationType(typ))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
