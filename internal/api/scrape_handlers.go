package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/profilehound/profilehound/internal/scrape"
)

// scrapeProfile handles GET /v1/scrape/profile/{username}. The response is
// served cache-aside; the "cached" field tells the caller which path was hit.
func (s *Server) scrapeProfile(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	useCache := parseBool(r.URL.Query().Get("use_cache"), true)
	key := "profile:" + username

	if useCache {
		if value, ok := s.cache.Get(key); ok {
			writeJSON(w, http.StatusOK, map[string]any{"cached": true, "profile": value})
			return
		}
	}

	profile, err := s.github.Profile(r.Context(), username, requestToken(r))
	if err != nil {
		s.logger.Warn("profile scrape failed", zap.String("username", username), zap.Error(err))
		writeError(w, statusForError(err), err.Error())
		return
	}
	s.cache.Put(key, profile, 0)
	writeJSON(w, http.StatusOK, map[string]any{"cached": false, "profile": profile})
}

// scrapeRepositories handles GET /v1/scrape/repositories/{username}.
func (s *Server) scrapeRepositories(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	useCache := parseBool(r.URL.Query().Get("use_cache"), true)
	maxRepos := parseInt(r.URL.Query().Get("max_repos"), s.cfg.GitHub.DefaultMaxRepos)
	key := fmt.Sprintf("repos:%s:%d", username, maxRepos)

	if useCache {
		if value, ok := s.cache.Get(key); ok {
			writeJSON(w, http.StatusOK, map[string]any{"cached": true, "repositories": value})
			return
		}
	}

	repos, err := s.github.Repositories(r.Context(), username, maxRepos, requestToken(r))
	if err != nil {
		s.logger.Warn("repository scrape failed", zap.String("username", username), zap.Error(err))
		writeError(w, statusForError(err), err.Error())
		return
	}
	s.cache.Put(key, repos, 0)
	writeJSON(w, http.StatusOK, map[string]any{"cached": false, "repositories": repos})
}

// scrapeComplete handles GET /v1/scrape/complete/{username}: profile plus
// repositories plus aggregates, optionally with README content.
func (s *Server) scrapeComplete(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	useCache := parseBool(r.URL.Query().Get("use_cache"), true)
	opts := s.optionsFromRequest(r)
	key := fmt.Sprintf("complete:%s:%d:%t", username, opts.MaxRepos, opts.IncludeReadme)

	if useCache {
		if value, ok := s.cache.Get(key); ok {
			writeJSON(w, http.StatusOK, map[string]any{"cached": true, "result": value})
			return
		}
	}

	result, err := s.github.Scrape(r.Context(), username, opts, nil)
	if err != nil {
		s.logger.Warn("complete scrape failed", zap.String("username", username), zap.Error(err))
		writeError(w, statusForError(err), err.Error())
		return
	}
	s.cache.Put(key, result, 0)
	writeJSON(w, http.StatusOK, map[string]any{"cached": false, "result": result})
}

// optionsFromRequest builds scrape options from query parameters, falling back
// to configured defaults.
func (s *Server) optionsFromRequest(r *http.Request) scrape.Options {
	q := r.URL.Query()
	return scrape.Options{
		Token:          requestToken(r),
		MaxRepos:       parseInt(q.Get("max_repos"), s.cfg.GitHub.DefaultMaxRepos),
		IncludeReadme:  parseBool(q.Get("include_readme"), false),
		TruncateReadme: parseBool(q.Get("truncate_readme"), true),
		TruncateLength: parseInt(q.Get("truncate_length"), 0),
	}
}

// requestToken extracts a caller-supplied GitHub token; empty means the
// configured service token applies.
func requestToken(r *http.Request) string {
	if token := r.Header.Get("X-GitHub-Token"); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

func parseBool(raw string, def bool) bool {
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return val
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return def
	}
	return val
}
