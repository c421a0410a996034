package leadveil

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/leadveil/internal/settings"
)

// webhookBodyLimit bounds one webhook payload read.
const webhookBodyLimit = 1 << 20

// Handler builds the HTTP surface: the webhook endpoint, the health probe
// and, when an admin key is configured, the authenticated admin API.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/webhook", s.handleWebhook)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.cfg.AdminKey != "" {
		r.Route("/api", func(r chi.Router) {
			r.Use(s.requireAdminKey)
			r.Get("/status", s.handleStatus)
			r.Get("/leads-sheets", s.handleLeadsSheets)
			r.Post("/settings", s.handleSettings)
			r.Post("/refresh-index", s.handleRefreshIndex)
			r.Get("/journal", s.handleJournal)
		})
	} else {
		s.logger.Warn("admin_key not configured, admin API disabled")
	}
	return r
}

// handleWebhook acknowledges first, processes after. A validation-token
// handshake short-circuits everything else.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if token := r.Header.Get("Validation-Token"); token != "" {
		w.Header().Set("Validation-Token", token)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, token)
		return
	}
	if s.cfg.WebhookSecret != "" {
		got := r.Header.Get("x-webhook-secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
	if err != nil {
		// Still acknowledge: the provider retries on non-200 and a truncated
		// body is not worth a redelivery storm.
		s.logger.Warn("webhook body read failed", "error", err)
		body = nil
	}
	w.WriteHeader(http.StatusOK)

	// The request context dies with the response; processing must outlive it.
	go s.HandleEvent(context.WithoutCancel(r.Context()), body)
}

func (s *Service) requireAdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("x-admin-key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.CurrentStatus(r.URL.Query().Get("sheet")))
}

func (s *Service) handleLeadsSheets(w http.ResponseWriter, _ *http.Request) {
	tabs, overlay := s.LeadsSheets()
	writeJSON(w, http.StatusOK, map[string]any{
		"leadsSheets":        tabs,
		"holdMinutesBySheet": overlay,
	})
}

func (s *Service) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HoldMinutes int    `json:"holdMinutes"`
		LeadSheet   string `json:"leadSheet"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.SetHoldMinutes(r.Context(), req.LeadSheet, req.HoldMinutes); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidInput) || errors.Is(err, settings.ErrOutOfRange) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"holdMinutes": req.HoldMinutes,
		"leadSheet":   req.LeadSheet,
	})
}

func (s *Service) handleRefreshIndex(w http.ResponseWriter, r *http.Request) {
	tab := r.URL.Query().Get("sheet")
	if err := s.RefreshIndex(r.Context(), tab); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"refreshed": true,
		"sheet":     tab,
		"indexed":   s.index.Len(),
	})
}

func (s *Service) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.RecentJournal(r.Context(), limit)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNotConfigured) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
