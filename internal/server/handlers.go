package server

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mcscout/internal/errors"
	"mcscout/internal/logging"
	"mcscout/internal/query"
	"mcscout/internal/shared"
)

const (
	sortCookie  = "sort"
	orderCookie = "order"

	cookieMaxAge = 365 * 24 * time.Hour
)

type API struct {
	Store     Store
	Rescanner *Rescanner
	Auth      AuthPolicy
	Cache     *ListCache
	Logger    *zerolog.Logger
}

func (a *API) logger() *zerolog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return logging.Default()
}

// Routes registers every endpoint. Mutating endpoints go through RequireAuth.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.Healthz)
	mux.HandleFunc("/v1/servers", a.ListServers)
	mux.HandleFunc("/api/servers", a.RawServers)
	mux.HandleFunc("/v1/servers/{hash}/remove", a.RequireAuth(a.RemoveServer))
	mux.HandleFunc("/v1/servers/{hash}/star", a.RequireAuth(a.StarServer))
	mux.HandleFunc("/v1/servers/{hash}/unstar", a.RequireAuth(a.UnstarServer))
	mux.HandleFunc("/v1/starred", a.ListStarred)
	mux.HandleFunc("/v1/rescan", a.Rescan)
	mux.HandleFunc("/v1/rescan/cancel", a.RequireAuth(a.CancelRescan))
	return mux
}

// Handler is Routes wrapped in the standard middleware.
func (a *API) Handler() http.Handler {
	return Chain(a.Routes(), RequestLogger(a.logger()), Recovery(a.logger()))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 2<<20))
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]any{"ok": true})
}

// ListServers serves the sorted, filtered snapshot. Sort and order fall back
// to the values remembered in cookies and are written back after resolving.
func (a *API) ListServers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}
	q := r.URL.Query()
	opts := query.Resolve(
		paramOrCookie(r, q.Get("sort"), sortCookie),
		paramOrCookie(r, q.Get("order"), orderCookie),
		q.Get("filter"),
	)
	setPreference(w, sortCookie, string(opts.Sort))
	setPreference(w, orderCookie, string(opts.Order))

	views, gen, ok := a.Cache.Get(opts)
	if !ok {
		var err error
		views, err = a.Store.ListView(r.Context(), opts)
		if err != nil {
			a.logger().Error().Err(err).Msg("list servers")
			writeJSON(w, 500, map[string]any{"error": "db error"})
			return
		}
		a.Cache.Set(gen, opts, views)
	}

	writeJSON(w, 200, shared.ServerList{
		Servers: views,
		Sort:    string(opts.Sort),
		Order:   string(opts.Order),
		Filter:  string(opts.Filter),
	})
}

// RawServers returns the live snapshot in storage order.
func (a *API) RawServers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}
	recs, err := a.Store.ListServers(r.Context())
	if err != nil {
		a.logger().Error().Err(err).Msg("raw servers")
		writeJSON(w, 500, map[string]any{"error": "db error"})
		return
	}
	writeJSON(w, 200, recs)
}

func (a *API) RemoveServer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}
	hash := r.PathValue("hash")
	if err := a.Store.DeleteByHash(r.Context(), hash); err != nil {
		a.logger().Error().Err(err).Str("hash", hash).Msg("remove server")
		writeJSON(w, 500, map[string]any{"error": "db error"})
		return
	}
	a.Cache.Flush()
	writeJSON(w, 200, map[string]any{"ok": true, "message": "Server removed from the list."})
}

func (a *API) StarServer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}
	hash := r.PathValue("hash")
	rec, err := a.Store.Star(r.Context(), hash)
	if err != nil {
		if errors.IsNotFound(err) {
			writeJSON(w, 404, map[string]any{"error": "Server not found."})
			return
		}
		a.logger().Error().Err(err).Str("hash", hash).Msg("star server")
		writeJSON(w, 500, map[string]any{"error": "db error"})
		return
	}
	a.Cache.Flush()
	writeJSON(w, 200, map[string]any{"ok": true, "message": "Server starred.", "server": rec})
}

func (a *API) UnstarServer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}
	hash := r.PathValue("hash")
	if err := a.Store.Unstar(r.Context(), hash); err != nil {
		a.logger().Error().Err(err).Str("hash", hash).Msg("unstar server")
		writeJSON(w, 500, map[string]any{"error": "db error"})
		return
	}
	a.Cache.Flush()
	writeJSON(w, 200, map[string]any{"ok": true, "message": "Server unstarred."})
}

func (a *API) ListStarred(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}
	recs, err := a.Store.ListStarred(r.Context())
	if err != nil {
		a.logger().Error().Err(err).Msg("list starred")
		writeJSON(w, 500, map[string]any{"error": "db error"})
		return
	}
	writeJSON(w, 200, recs)
}

// Rescan reports status on GET and runs a rescan on POST. The rescan runs in
// the request but is not tied to the client connection; use
// /v1/rescan/cancel to stop it.
func (a *API) Rescan(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, 200, a.Rescanner.Status())
		return
	case http.MethodPost:
	default:
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}

	if a.Auth != nil && !a.Auth.Allow(r) {
		a.logger().Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("auth: rejected")
		writeJSON(w, 401, map[string]any{"error": "unauthorized"})
		return
	}

	req, err := parseRescanRequest(r)
	if err != nil {
		writeJSON(w, 400, map[string]any{"error": "bad json"})
		return
	}

	res, err := a.Rescanner.Run(context.WithoutCancel(r.Context()), req)
	writeJSON(w, rescanStatusCode(err), res)
}

func (a *API) CancelRescan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, 405, map[string]any{"error": "method not allowed"})
		return
	}
	if !a.Rescanner.Cancel() {
		writeJSON(w, 200, map[string]any{"ok": false, "message": "No rescan is running."})
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "message": "Cancel requested."})
}

// parseRescanRequest accepts a JSON body or form values. Pages are clamped
// and an empty query becomes the default.
func parseRescanRequest(r *http.Request) (shared.RescanRequest, error) {
	var req shared.RescanRequest

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		body, err := readBody(r)
		if err != nil {
			return req, err
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			var raw struct {
				Pages      json.RawMessage `json:"pages"`
				Query      string          `json:"query"`
				ActiveOnly bool            `json:"active_only"`
			}
			if err := json.Unmarshal(body, &raw); err != nil {
				return req, err
			}
			req.Pages = parsePages(strings.Trim(string(raw.Pages), `"`))
			req.Query = raw.Query
			req.ActiveOnly = raw.ActiveOnly
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req.Pages = parsePages(r.Form.Get("pages"))
		req.Query = r.Form.Get("query")
		req.ActiveOnly, _ = strconv.ParseBool(r.Form.Get("active_only"))
	}

	req.Pages = shared.ClampPages(req.Pages)
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		req.Query = shared.DefaultQuery
	}
	return req, nil
}

func parsePages(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func rescanStatusCode(err error) int {
	var cfgErr *errors.ConfigError
	var storageErr *errors.StorageError
	switch {
	case err == nil:
		return 200
	case errors.Is(err, errors.ErrRescanInProgress), errors.IsCanceled(err):
		return 409
	case errors.As(err, &cfgErr):
		return 503
	case errors.As(err, &storageErr):
		return 500
	case errors.Is(err, errors.ErrNoResults):
		return 404
	default:
		return 502
	}
}

func paramOrCookie(r *http.Request, v, cookie string) string {
	if v != "" {
		return v
	}
	if c, err := r.Cookie(cookie); err == nil {
		return c.Value
	}
	return ""
}

func setPreference(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
