package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"lifeflow/internal/clock"
	"lifeflow/internal/config"
	"lifeflow/internal/ics"
	appLog "lifeflow/internal/log"
	"lifeflow/internal/model"
	"lifeflow/internal/sequence"
	"lifeflow/internal/timeline"
)

// Server exposes the timeline over HTTP: a JSON API for the list and its
// edits, plus an iCalendar export.
type Server struct {
	cfg   *config.Config
	tl    *timeline.Timeline
	clock clock.Clock
	loc   *time.Location
	mux   *http.ServeMux
}

// NewServer constructs a new Server. A nil clock means the system clock.
func NewServer(cfg *config.Config, tl *timeline.Timeline, clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.NewSystem()
	}
	s := &Server{
		cfg:   cfg,
		tl:    tl,
		clock: clk,
		loc:   resolveLocationOrLocal(cfg.Timezone),
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "basic_auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// credentials disable it.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="LifeFlow", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/stories", s.handleList)
	s.mux.HandleFunc("POST /api/stories", s.handleInsert)
	s.mux.HandleFunc("PUT /api/stories", s.handleUpdate)
	s.mux.HandleFunc("DELETE /api/stories", s.handleDelete)
	s.mux.HandleFunc("GET /api/stories/search", s.handleSearch)
	s.mux.HandleFunc("POST /api/stories/move", s.handleMove)
	s.mux.HandleFunc("GET /api/today", s.handleToday)
	s.mux.HandleFunc("POST /api/resort", s.handleResort)
	s.mux.HandleFunc("POST /api/reload", s.handleReload)
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// storyDTO is one row of the timeline as sent to clients.
type storyDTO struct {
	Index int         `json:"index"`
	Story model.Story `json:"story"`

	Date                 string `json:"date,omitempty"`
	HasDate              bool   `json:"has_date"`
	TimeMinutes          *int   `json:"time_minutes"`
	DistanceFromPrevious int    `json:"distance_from_previous"`
	IsSameDay            bool   `json:"is_same_day"`
	SameDayPosition      int    `json:"same_day_position"`
	Spacing              int    `json:"spacing"`
}

// listResponse is the JSON response shape for the list endpoints.
type listResponse struct {
	Stories  []storyDTO `json:"stories"`
	LoadedAt time.Time  `json:"loaded_at"`
}

func toDTOs(entries []sequence.Entry) []storyDTO {
	sd := sequence.AnnotateSameDay(entries)
	out := make([]storyDTO, len(entries))
	for i, e := range entries {
		d := storyDTO{
			Index:                i,
			Story:                e.Story,
			Date:                 e.Date,
			HasDate:              e.HasDate,
			DistanceFromPrevious: e.DistanceFromPrevious,
			IsSameDay:            sd.IsSameDay[i],
			SameDayPosition:      sd.Position[i],
			Spacing:              sequence.VisualSpacing(e.DistanceFromPrevious),
		}
		if e.HasTime {
			m := e.Minutes
			d.TimeMinutes = &m
		}
		out[i] = d
	}
	return out
}

func (s *Server) writeList(w http.ResponseWriter, entries []sequence.Entry) {
	writeJSON(w, http.StatusOK, listResponse{
		Stories:  toDTOs(entries),
		LoadedAt: s.tl.LoadedAt(),
	})
}

// GET /api/stories
func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.writeList(w, s.tl.Snapshot())
}

type insertRequest struct {
	Index *int        `json:"index"`
	Story model.Story `json:"story"`
}

// POST /api/stories {index, story}. Without index the story is appended.
func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req insertRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Story.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	at := len(s.tl.Snapshot())
	if req.Index != nil {
		at = *req.Index
	}
	entries, err := s.tl.Insert(r.Context(), at, req.Story)
	if err != nil {
		s.writeTimelineError(w, "insert", err)
		return
	}
	s.writeList(w, entries)
}

type updateRequest struct {
	Target model.Story `json:"target"`
	Story  model.Story `json:"story"`
}

// PUT /api/stories {target, story}
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Story.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.tl.Update(r.Context(), req.Target, req.Story)
	if err != nil {
		s.writeTimelineError(w, "update", err)
		return
	}
	s.writeList(w, entries)
}

// DELETE /api/stories?id=...
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	entries, err := s.tl.Delete(r.Context(), model.Story{ID: id})
	if err != nil {
		s.writeTimelineError(w, "delete", err)
		return
	}
	s.writeList(w, entries)
}

// GET /api/stories/search?q=...&limit=N
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 0)
	entries := s.tl.Snapshot()
	dtos := toDTOs(entries)
	hits := make([]storyDTO, 0)
	for _, i := range timeline.Match(entries, r.URL.Query().Get("q")) {
		if limit > 0 && len(hits) >= limit {
			break
		}
		hits = append(hits, dtos[i])
	}
	writeJSON(w, http.StatusOK, listResponse{Stories: hits, LoadedAt: s.tl.LoadedAt()})
}

type moveRequest struct {
	Index     int    `json:"index"`
	Direction string `json:"direction"`
}

// POST /api/stories/move {index, direction: "up"|"down"}
func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var (
		entries []sequence.Entry
		err     error
	)
	switch req.Direction {
	case "up":
		entries, err = s.tl.MoveUp(req.Index)
	case "down":
		entries, err = s.tl.MoveDown(req.Index)
	default:
		writeError(w, http.StatusBadRequest, "direction must be up or down")
		return
	}
	if err != nil {
		s.writeTimelineError(w, "move", err)
		return
	}
	s.writeList(w, entries)
}

type todayResponse struct {
	Date  string `json:"date"`
	Index int    `json:"index"`
}

// GET /api/today
func (s *Server) handleToday(w http.ResponseWriter, _ *http.Request) {
	now := s.clock.Now().In(s.loc)
	writeJSON(w, http.StatusOK, todayResponse{
		Date:  now.Format("2006-01-02"),
		Index: s.tl.Today(now),
	})
}

// POST /api/resort
func (s *Server) handleResort(w http.ResponseWriter, _ *http.Request) {
	s.writeList(w, s.tl.Resort())
}

// POST /api/reload
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.tl.Reload(r.Context()); err != nil {
		appLog.Error("api reload failed", err)
		writeError(w, http.StatusInternalServerError, "failed to reload stories")
		return
	}
	s.writeList(w, s.tl.Snapshot())
}

// GET /calendar.ics
func (s *Server) handleCalendar(w http.ResponseWriter, _ *http.Request) {
	body := ics.Export(s.tl.Snapshot(), ics.ExportConfig{
		CalendarName: s.cfg.CalendarName,
		Location:     s.loc,
		Now:          s.clock.Now(),
	})
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (s *Server) writeTimelineError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, timeline.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, timeline.ErrIndexOutOfRange), errors.Is(err, timeline.ErrDatedMove):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, timeline.ErrReadOnly):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrInvalidID):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error("api "+op+" failed", err)
		writeError(w, http.StatusInternalServerError, "failed to "+op+" story")
	}
}

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
