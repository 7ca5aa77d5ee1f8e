package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/scoopfeed/internal/auth"
	"github.com/TobiSchelling/scoopfeed/internal/collect"
	"github.com/TobiSchelling/scoopfeed/internal/database"
	"github.com/TobiSchelling/scoopfeed/internal/pipeline"
	"github.com/TobiSchelling/scoopfeed/internal/query"
)

const maxBodyBytes = 1 << 20

type pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// parsePaging reads page, pageSize, category and forceRefresh. Missing
// numbers are left zero so the query service applies its defaults.
func parsePaging(r *http.Request) (query.Params, error) {
	q := r.URL.Query()
	var p query.Params
	var err error
	if v := q.Get("page"); v != "" {
		if p.Page, err = strconv.Atoi(v); err != nil || p.Page < 1 {
			return p, fmt.Errorf("%w: page must be a positive integer", query.ErrInvalidParams)
		}
	}
	if v := q.Get("pageSize"); v != "" {
		if p.PageSize, err = strconv.Atoi(v); err != nil || p.PageSize < 1 {
			return p, fmt.Errorf("%w: pageSize must be a positive integer", query.ErrInvalidParams)
		}
	}
	p.Category = strings.TrimSpace(q.Get("category"))
	if strings.EqualFold(p.Category, "all") {
		p.Category = ""
	}
	p.Refresh = q.Get("forceRefresh") == "true"
	return p, nil
}

// logAction records a user action when the email is usable. Failures are
// logged only.
func (s *Server) logAction(email, action string, metadata map[string]any) {
	if email == "" || !auth.ValidEmail(email) {
		return
	}
	if err := s.DB.LogAction(email, action, metadata); err != nil {
		log.Printf("Error logging %s for %s: %v", action, email, err)
	}
}

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	params, err := parsePaging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.Query.List(r.Context(), params)
	if errors.Is(err, query.ErrInvalidParams) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Printf("Error listing articles: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.logAction(r.URL.Query().Get("userEmail"), "view_articles", map[string]any{
		"page":     page.Page,
		"pageSize": page.PageSize,
		"category": params.Category,
	})

	resp := map[string]any{
		"success":  true,
		"articles": page.Articles,
		"pagination": pagination{
			Total:      page.Total,
			Page:       page.Page,
			PageSize:   page.PageSize,
			TotalPages: page.TotalPages,
		},
	}
	if page.Message != "" {
		resp["message"] = page.Message
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "article id is required")
		return
	}

	a, err := s.Query.Get(r.Context(), id)
	if err != nil {
		log.Printf("Error loading article %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "article not found")
		return
	}

	s.logAction(r.URL.Query().Get("userEmail"), "view_article", map[string]any{"articleId": id})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "article": a})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.Query.Categories(r.Context())
	if err != nil {
		log.Printf("Error loading categories: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "categories": cats})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Query.Stats(r.Context())
	if err != nil {
		log.Printf("Error loading stats: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}

type feedbackRequest struct {
	ArticleID   string `json:"articleId"`
	UserEmail   string `json:"userEmail"`
	UserComment string `json:"userComment"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.ArticleID = strings.TrimSpace(req.ArticleID)
	req.UserEmail = strings.TrimSpace(req.UserEmail)
	if req.ArticleID == "" || req.UserEmail == "" {
		writeError(w, http.StatusBadRequest, "articleId and userEmail are required")
		return
	}
	if !auth.ValidEmail(req.UserEmail) {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}

	a, err := s.DB.GetArticle(req.ArticleID)
	if err != nil {
		log.Printf("Error loading article %s: %v", req.ArticleID, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "article not found")
		return
	}

	id, err := s.DB.InsertFeedback(req.ArticleID, req.UserEmail, strings.TrimSpace(req.UserComment))
	if err != nil {
		log.Printf("Error saving feedback: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.logAction(req.UserEmail, "submit_feedback", map[string]any{"articleId": req.ArticleID, "feedbackId": id})
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "id": id, "message": "feedback saved"})
}

type authRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Action   string `json:"action"`
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if !auth.ValidEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}

	var signup bool
	switch req.Action {
	case "signup":
		if req.Username == "" {
			writeError(w, http.StatusBadRequest, "username is required")
			return
		}
		signup = true
		if _, err := s.DB.RegisterUser(req.Email, req.Username); err != nil {
			log.Printf("Error registering %s: %v", req.Email, err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	case "signin":
	default:
		writeError(w, http.StatusBadRequest, "action must be signup or signin")
		return
	}

	if err := s.Links.SendLink(r.Context(), req.Email, signup); err != nil {
		log.Printf("Error sending sign-in link to %s: %v", req.Email, err)
		writeError(w, http.StatusBadGateway, "could not send sign-in link")
		return
	}
	s.logAction(req.Email, req.Action, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "check your email for a sign-in link",
	})
}

func (s *Server) handleCronCollect(w http.ResponseWriter, r *http.Request) {
	if err := auth.CheckBearer(r.Header.Get("Authorization"), s.CronSecret); err != nil {
		log.Println("Rejected cron request with bad credentials")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ok, err := s.DB.ClaimRun(database.CollectorSetting, false)
	if err != nil {
		log.Printf("Error checking collector setting: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"skipped":   true,
			"message":   "collector is disabled",
			"timestamp": now,
		})
		return
	}

	result, err := s.run(r)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{
			"success":   false,
			"error":     err.Error(),
			"timestamp": now,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"count":      result.Found,
		"savedCount": result.Saved,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if _, err := s.Issuer.Verify(header); err != nil {
		if auth.CheckBearer(header, s.CronSecret) != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	result, err := s.run(r)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	errs := result.Errors
	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       fmt.Sprintf("%d articles saved, %d updated", result.Saved, result.Updated),
		"articlesFound": result.Found,
		"articlesSaved": result.Saved + result.Updated,
		"errors":        errs,
		"timeElapsed":   fmt.Sprintf("%.1fs", result.Elapsed.Seconds()),
	})
}

func (s *Server) run(r *http.Request) (*pipeline.Result, error) {
	if s.Runner == nil {
		return nil, collect.ErrNotConfigured
	}
	return s.Runner.Run(r.Context(), pipeline.Options{})
}

func statusFor(err error) int {
	if errors.Is(err, collect.ErrNotConfigured) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
