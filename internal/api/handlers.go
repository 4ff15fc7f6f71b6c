package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/skeinai/skein/pkg/directory"
	"github.com/skeinai/skein/pkg/domain"
	"github.com/skeinai/skein/pkg/engine"
	"github.com/skeinai/skein/pkg/store"
)

// registerModelRequest extends the metadata with a writable credential field;
// the metadata's own credential never round-trips through JSON.
type registerModelRequest struct {
	domain.ModelMetadata
	Credential string `json:"credential"`
}

func (s *Server) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	var req registerModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", "request body is not valid JSON")
		return
	}

	meta := req.ModelMetadata
	meta.Credential = req.Credential
	if err := s.directory.Register(r.Context(), meta); err != nil {
		var structured *domain.Error
		if errors.As(err, &structured) {
			s.writeDomainError(w, r, structured)
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	stored, err := s.directory.Resolve(r.Context(), meta.ID)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	filter := directory.Filter{
		Tag:    r.URL.Query().Get("tag"),
		Status: domain.ModelStatus(r.URL.Query().Get("status")),
	}
	models := s.directory.List(r.Context(), filter)

	counts := map[domain.ModelStatus]int{}
	for _, m := range models {
		counts[m.Status]++
	}
	for _, status := range []domain.ModelStatus{domain.StatusOnline, domain.StatusOffline, domain.StatusError} {
		s.metrics.SetModelCount(string(status), counts[status])
	}

	s.writeJSON(w, http.StatusOK, models)
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	meta, err := s.directory.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeNotFoundOrError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := s.directory.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeNotFoundOrError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutGraph(w http.ResponseWriter, r *http.Request) {
	var g domain.PipelineGraph
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", "request body is not valid JSON")
		return
	}
	if err := s.registry.Put(g); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleListGraphs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	g, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "graph_not_found", "graph is not registered")
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteGraph(w http.ResponseWriter, r *http.Request) {
	s.registry.Delete(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

type executeRequest struct {
	Input domain.Value `json:"input"`
}

func (s *Server) handleExecuteGraph(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", "request body is not valid JSON")
		return
	}

	record, err := s.orchestrator.ExecuteByID(r.Context(), r.PathValue("id"), req.Input)
	if err != nil {
		if errors.Is(err, engine.ErrGraphNotFound) {
			s.writeError(w, r, http.StatusNotFound, "graph_not_found", err.Error())
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	s.recordRunMetrics(record)
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleInvokeModel(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", "request body is not valid JSON")
		return
	}

	record, err := s.orchestrator.ExecuteSingle(r.Context(), r.PathValue("id"), req.Input)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.recordRunMetrics(record)

	// Ad hoc calls surface the structured failure directly instead of
	// requiring the caller to dig through the record.
	if record.Status == domain.RunFailed && len(record.Invocations) == 1 && record.Invocations[0].Err != nil {
		s.writeDomainError(w, r, record.Invocations[0].Err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts := store.ListOptions{GraphID: r.URL.Query().Get("graph_id")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, r, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		opts.Limit = limit
	}

	records, err := s.store.List(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	record, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, "run_not_found", "execution record not found")
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) writeNotFoundOrError(w http.ResponseWriter, r *http.Request, err error) {
	var structured *domain.Error
	if errors.As(err, &structured) {
		s.writeDomainError(w, r, structured)
		return
	}
	s.writeError(w, r, http.StatusInternalServerError, "internal", err.Error())
}

func (s *Server) recordRunMetrics(record domain.ExecutionRecord) {
	statuses := make([]string, len(record.Invocations))
	for i, inv := range record.Invocations {
		statuses[i] = string(inv.Status)
	}
	s.metrics.RecordRun(string(record.Status), statuses)
}
