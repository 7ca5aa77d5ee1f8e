package server

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/TobiSchelling/scoopfeed/internal/auth"
)

// requireAdmin verifies the bearer token. With super set the admin must
// also be a superadmin. It writes the error response itself.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request, super bool) (*auth.Claims, bool) {
	claims, err := s.Issuer.Verify(r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	if super {
		if err := auth.RequireSuper(claims); err != nil {
			writeError(w, http.StatusForbidden, "superadmin required")
			return nil, false
		}
	}
	return claims, true
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	token, admin, err := s.Issuer.Login(s.DB, strings.TrimSpace(req.Email), req.Password)
	if errors.Is(err, auth.ErrUnauthorized) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err != nil {
		log.Printf("Admin login failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
		"admin": map[string]any{
			"id":           admin.ID,
			"email":        admin.Email,
			"isSuperAdmin": admin.IsSuperAdmin,
		},
	})
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r, true); !ok {
		return
	}
	settings, err := s.DB.ListAPISettings()
	if err != nil {
		log.Printf("Error listing settings: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "settings": settings})
}

type settingRequest struct {
	APIName     string `json:"apiName"`
	IsActive    *bool  `json:"isActive"`
	RunInterval int    `json:"runInterval"`
}

func (s *Server) handleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.requireAdmin(w, r, true)
	if !ok {
		return
	}
	var req settingRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.APIName) == "" {
		writeError(w, http.StatusBadRequest, "apiName is required")
		return
	}
	if req.RunInterval < 0 {
		writeError(w, http.StatusBadRequest, "runInterval must not be negative")
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	} else if cur, err := s.DB.GetAPISetting(req.APIName); err == nil && cur != nil {
		active = cur.IsActive
	}

	setting, err := s.DB.UpdateAPISetting(req.APIName, active, req.RunInterval)
	if err != nil {
		log.Printf("Error updating setting %s: %v", req.APIName, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	log.Printf("Admin %s set %s active=%v interval=%d", claims.Email, setting.APIName, setting.IsActive, setting.RunInterval)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "setting": setting})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r, false); !ok {
		return
	}

	q := r.URL.Query()
	page, pageSize := 1, 20
	var err error
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			writeError(w, http.StatusBadRequest, "invalid page")
			return
		}
	}
	if v := q.Get("pageSize"); v != "" {
		if pageSize, err = strconv.Atoi(v); err != nil || pageSize < 1 || pageSize > 100 {
			writeError(w, http.StatusBadRequest, "invalid pageSize")
			return
		}
	}

	users, err := s.DB.ListUsers(pageSize, (page-1)*pageSize)
	if err != nil {
		log.Printf("Error listing users: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	total, err := s.DB.CountUsers()
	if err != nil {
		log.Printf("Error counting users: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"users":   users,
		"pagination": pagination{
			Total:      total,
			Page:       page,
			PageSize:   pageSize,
			TotalPages: (total + pageSize - 1) / pageSize,
		},
	})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.requireAdmin(w, r, true)
	if !ok {
		return
	}
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	deleted, err := s.DB.DeleteUser(email)
	if err != nil {
		log.Printf("Error deleting user %s: %v", email, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	log.Printf("Admin %s deleted user %s", claims.Email, email)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
