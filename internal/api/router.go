// Package api serves stored relations and the run log over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/vaaleriarv/proyecto-salud/internal/model"
	"github.com/vaaleriarv/proyecto-salud/internal/store"
)

const (
	defaultRowLimit = 100
	maxRowLimit     = 10000
)

// Handler exposes read-only endpoints over a store.
type Handler struct {
	store store.Store
	log   *zap.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(st store.Store) http.Handler {
	h := &Handler{store: st, log: zap.L().With(zap.String("component", "api"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Get("/runs", h.listRuns)
	r.Get("/relations", h.listRelations)
	r.Get("/relations/{name}", h.readRelation)
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := store.RunFilter{
		Status: store.RunStatus(r.URL.Query().Get("status")),
		Limit:  limit,
	}
	runs, err := h.store.ListRuns(r.Context(), filter)
	if err != nil {
		h.log.Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) listRelations(w http.ResponseWriter, r *http.Request) {
	infos, err := h.store.ListRelations(r.Context())
	if err != nil {
		h.log.Error("list relations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list relations failed")
		return
	}
	if infos == nil {
		infos = []store.RelationInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

type relationResponse struct {
	Name    string           `json:"name"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

func (h *Handler) readRelation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	limit, err := queryInt(r, "limit", defaultRowLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit <= 0 || limit > maxRowLimit {
		limit = maxRowLimit
	}

	sch, err := h.store.RelationSchema(r.Context(), name)
	if err != nil {
		h.relationError(w, name, err)
		return
	}
	rel, err := h.store.ReadRelation(r.Context(), sch, limit)
	if err != nil {
		h.relationError(w, name, err)
		return
	}

	resp := relationResponse{Name: name, Columns: sch.Columns(), Rows: make([]map[string]any, 0, rel.Len())}
	for _, rec := range rel.Records() {
		row := make(map[string]any, len(resp.Columns))
		for i, c := range resp.Columns {
			row[c] = rec[i]
		}
		resp.Rows = append(resp.Rows, row)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) relationError(w http.ResponseWriter, name string, err error) {
	if model.IsMissingSource(err) {
		writeError(w, http.StatusNotFound, "relation not found: "+name)
		return
	}
	h.log.Error("read relation", zap.String("relation", name), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "read relation failed")
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &queryError{key: key, raw: raw}
	}
	return n, nil
}

type queryError struct {
	key, raw string
}

func (e *queryError) Error() string {
	return "invalid " + e.key + ": " + strconv.Quote(e.raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
