package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/GetStream/chat-render/api/validator"
	"github.com/GetStream/chat-render/render"
)

// ErrNotFound is returned by storage layers for unknown records.
var ErrNotFound = errors.New("not found")

// A DB provides a storage layer that persists chat records.
type DB interface {
	ListRecords(ctx context.Context, jid string, limit int, offset int, excludeIDs ...string) ([]render.Record, error)
	GetRecord(ctx context.Context, jid, id string) (render.Record, error)
	HasRecord(ctx context.Context, jid, id string) (bool, error)
	DeleteRecord(ctx context.Context, jid, id string) error
}

// A Cache provides a storage layer that caches the most recent records of a
// chat and carries per-chat signals.
type Cache interface {
	ListRecords(ctx context.Context, jid string) ([]render.Record, error)
	InsertRecord(ctx context.Context, jid string, rec render.Record) error
	DeleteRecord(ctx context.Context, jid, id string) error
	MentionsMe(ctx context.Context, jid, id string) (bool, error)
	PublishRendered(ctx context.Context, jid, id string) error
}

// API provides the REST endpoints for the application.
type API struct {
	Logger   *slog.Logger
	DB       DB
	Cache    Cache
	Val      *validator.Validator
	Renderer *render.Renderer

	once sync.Once
	mux  *http.ServeMux
}

// pageSize defines the default number of records rendered on a single page.
var pageSize = 50

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /chats/{jid}/plans", a.listPlans)
	mux.HandleFunc("POST /chats/{jid}/messages/{id}/retry", a.retryMessage)
	mux.HandleFunc("POST /render", a.render)

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	id := uuid.NewString()
	w.Header().Set("X-Request-Id", id)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path, "request_id", id)
	a.mux.ServeHTTP(w, r)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	a.Logger.Error("Error", "error", err.Error())
	a.respond(w, status, response{Error: msg})
}

func (a *API) respondInvalid(w http.ResponseWriter, errs []validator.ValidationError) {
	type response struct {
		Errors []validator.ValidationError `json:"errors"`
	}
	a.respond(w, http.StatusBadRequest, &response{Errors: errs})
}

func (a *API) validateBody(w http.ResponseWriter, s interface{}) bool {
	if errs := a.Val.ValidateStruct(s); len(errs) > 0 {
		a.respondInvalid(w, errs)
		return false
	}
	return true
}

func (a *API) validateJID(w http.ResponseWriter, jid string) bool {
	if errs := a.Val.Validate(jid, "required,jid"); len(errs) > 0 {
		a.respondInvalid(w, errs)
		return false
	}
	return true
}

func (a *API) listPlans(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Plans []render.Plan `json:"plans"`
	}

	jid := r.PathValue("jid")
	if !a.validateJID(w, jid) {
		return
	}
	page := 1
	if s := r.URL.Query().Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			if err == nil {
				err = errors.New("page must be positive")
			}
			a.respondError(w, http.StatusBadRequest, err, "Invalid page")
			return
		}
		page = n
	}

	var recs []render.Record
	if page == 1 {
		// Get recent records from cache
		cached, err := a.Cache.ListRecords(r.Context(), jid)
		if err != nil {
			a.respondError(w, http.StatusInternalServerError, err, "Could not list records")
			return
		}
		a.Logger.Info("Got records from cache", "chat", jid, "count", len(cached))
		recs = cached
	}

	// Get any remaining records from DB
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	dbRecs, err := a.DB.ListRecords(r.Context(), jid, pageSize, pageSize*(page-1), ids...)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not list records")
		return
	}
	a.Logger.Info("Got remaining records from DB", "chat", jid, "count", len(dbRecs))

	for _, rec := range dbRecs {
		if err := a.Cache.InsertRecord(r.Context(), jid, rec); err != nil {
			a.Logger.Error("Could not cache record", "id", rec.ID, "error", err.Error())
		}
	}
	recs = append(recs, dbRecs...)
	// Both stores list newest first; the chat collection reads oldest first.
	// POST /render keeps the caller's order instead.
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Time.Before(recs[j].Time)
	})

	query := r.URL.Query()
	col := &collection{
		chat:   render.Chat{JID: jid, Viewer: query.Get("viewer"), Nick: query.Get("nick")},
		db:     a.DB,
		cache:  a.Cache,
		logger: a.Logger,
	}
	plans := a.Renderer.RenderAll(r.Context(), col, recs)

	a.respond(w, http.StatusOK, response{Plans: nonEmpty(plans)})
}

func (a *API) render(w http.ResponseWriter, r *http.Request) {
	type (
		request struct {
			Chat     render.Chat     `json:"chat" validate:"required"`
			Records  []render.Record `json:"records" validate:"required,dive"`
			Mentions []string        `json:"mentions"`
		}
		response struct {
			Plans []render.Plan `json:"plans"`
		}
	)

	var body request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}

	if valid := a.validateBody(w, &body); !valid {
		return
	}

	if err := r.Body.Close(); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not close request body")
		return
	}

	col := render.NewMemory(body.Chat, body.Records, body.Mentions...)
	plans := a.Renderer.RenderAll(r.Context(), col, body.Records)

	a.respond(w, http.StatusOK, response{Plans: nonEmpty(plans)})
}

func (a *API) retryMessage(w http.ResponseWriter, r *http.Request) {
	jid, id := r.PathValue("jid"), r.PathValue("id")
	if !a.validateJID(w, jid) {
		return
	}

	rec, err := a.DB.GetRecord(r.Context(), jid, id)
	switch {
	case errors.Is(err, ErrNotFound):
		a.respondError(w, http.StatusNotFound, err, "Record not found")
		return
	case err != nil:
		a.respondError(w, http.StatusInternalServerError, err, "Could not get record")
		return
	}
	if rec.Type != render.TypeError && rec.Type != render.TypeInfo {
		a.respondError(w, http.StatusConflict, errors.New("record type "+string(rec.Type)), "Record cannot be retried")
		return
	}

	col := &collection{
		chat:   render.Chat{JID: jid},
		db:     a.DB,
		cache:  a.Cache,
		logger: a.Logger,
	}
	if err := a.Renderer.Retry(r.Context(), col, &rec); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not retry record")
		return
	}

	a.respond(w, http.StatusNoContent, nil)
}

// nonEmpty drops plans that render nothing.
func nonEmpty(plans []render.Plan) []render.Plan {
	out := make([]render.Plan, 0, len(plans))
	for _, p := range plans {
		if !p.Empty() {
			out = append(out, p)
		}
	}
	return out
}
