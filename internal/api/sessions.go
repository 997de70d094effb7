package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/simplui/simplui/internal/catalog"
	"github.com/simplui/simplui/internal/events"
	"github.com/simplui/simplui/internal/orchestrator"
	"github.com/simplui/simplui/internal/workflow"
	"go.uber.org/zap"
)

const maxBatchCount = 100

// StateMessage is the wire form of a batch state. Seeds are decimal strings
// since JSON numbers lose precision past 2^53. Completed images are fetched
// from /sessions/{id}/images/{n}.
type StateMessage struct {
	SessionID   string            `json:"session_id"`
	Iteration   int               `json:"iteration"`
	BatchCount  int               `json:"batch_count"`
	Completed   int               `json:"completed"`
	Preview     string            `json:"preview,omitempty"`
	Progress    int               `json:"progress"`
	ProgressMax int               `json:"progress_max"`
	Seeds       map[string]string `json:"seeds,omitempty"`
	BaseSeeds   map[string]string `json:"base_seeds,omitempty"`
	Status      string            `json:"status"`
	Phase       string            `json:"phase,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func newStateMessage(sessionID string, st orchestrator.State) StateMessage {
	m := StateMessage{
		SessionID:   sessionID,
		Iteration:   st.Iteration,
		BatchCount:  st.BatchCount,
		Completed:   len(st.Completed),
		Progress:    st.Progress,
		ProgressMax: st.ProgressMax,
		Seeds:       seedStrings(st.Seeds),
		BaseSeeds:   seedStrings(st.BaseSeeds),
		Status:      st.Status,
		Phase:       string(st.Phase),
	}
	if st.Preview != nil {
		m.Preview = base64.StdEncoding.EncodeToString(st.Preview)
	}
	if st.Err != nil {
		m.Error = st.Err.Error()
	}
	return m
}

func seedStrings(seeds map[string]uint64) map[string]string {
	if len(seeds) == 0 {
		return nil
	}
	out := make(map[string]string, len(seeds))
	for k, v := range seeds {
		out[k] = strconv.FormatUint(v, 10)
	}
	return out
}

type WorkflowsResponse struct {
	Workflows []string `json:"workflows"`
}

func (s *Server) listWorkflowsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, WorkflowsResponse{Workflows: s.catalog.Names()})
}

type SchemaResponse struct {
	Workflow string                `json:"workflow"`
	Nodes    []workflow.NodeSchema `json:"nodes"`
}

func (s *Server) schemaHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	nodes, err := s.catalog.Schema(r.Context(), name)
	if err != nil {
		s.catalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SchemaResponse{Workflow: name, Nodes: nodes})
}

func (s *Server) catalogError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrUnknownWorkflow) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error("load workflow failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to load workflow")
}

type SessionResponse struct {
	ID      string `json:"id"`
	Created string `json:"created"`
}

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create()
	if err != nil {
		s.logger.Error("create session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{ID: sess.ID, Created: sess.Created.Format(time.RFC3339Nano)})
}

// session resolves the {id} path value, writing 404 when unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*orchestrator.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) sessionStateHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newStateMessage(sess.ID, sess.Last()))
}

func (s *Server) closeSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type GenerateResponse struct {
	OK        bool               `json:"ok"`
	Overrides workflow.Overrides `json:"overrides"`
	BaseSeeds map[string]string  `json:"base_seeds,omitempty"`
}

func (s *Server) generateHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var params catalog.BatchParams
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if params.Workflow == "" {
		writeError(w, http.StatusBadRequest, "workflow required")
		return
	}
	if params.BatchCount < 0 || params.BatchCount > maxBatchCount {
		writeError(w, http.StatusBadRequest, "batch_count out of range")
		return
	}

	req, err := s.catalog.Request(r.Context(), params)
	if err != nil {
		s.catalogError(w, err)
		return
	}

	b, err := sess.Generate(r.Context(), req)
	if err != nil {
		if errors.Is(err, orchestrator.ErrSessionClosed) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	base := make(map[string]uint64)
	for _, sf := range b.Seeds() {
		base[sf.Key()] = sf.Base
	}
	writeJSON(w, http.StatusAccepted, GenerateResponse{
		OK:        true,
		Overrides: b.Overrides(),
		BaseSeeds: seedStrings(base),
	})
}

func (s *Server) skipHandler(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, (*orchestrator.Session).Skip)
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, (*orchestrator.Session).Stop)
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, signal func(*orchestrator.Session) error) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := signal(sess); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// imageHandler serves the n-th (0-based) completed image of the session's
// latest batch.
func (s *Server) imageHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	n, err := strconv.Atoi(r.PathValue("n"))
	completed := sess.Last().Completed
	if err != nil || n < 0 || n >= len(completed) {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	img := completed[n]
	w.Header().Set("Content-Type", http.DetectContentType(img))
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	_, _ = w.Write(img)
}

// sessionEventsHandler serves the session's persisted events, or the ones
// still in the in-memory buffer when no store is configured.
func (s *Server) sessionEventsHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if s.store == nil {
		if limit <= 0 {
			limit = recentEventsCount
		}
		writeJSON(w, http.StatusOK, events.RecentSessionEvents(sess.ID, limit))
		return
	}
	rows, err := s.store.QuerySession(r.Context(), sess.ID, limit)
	if err != nil {
		s.logger.Error("query session events failed", zap.String("session_id", sess.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query events")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
