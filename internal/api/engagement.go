package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tutu-network/streakd/internal/app/engagement"
	"github.com/tutu-network/streakd/internal/domain"
	"github.com/tutu-network/streakd/internal/infra/cache"
)

// ─── Response Types ─────────────────────────────────────────────────────────

// StreakResponse is the body of GET /v1/users/{id}/streak.
type StreakResponse struct {
	UserID           domain.UserID `json:"user_id"`
	CurrentStreak    int           `json:"current_streak"`
	LongestStreak    int           `json:"longest_streak"`
	LastActiveDate   *domain.Date  `json:"last_active_date,omitempty"`
	LastProcessedDay *domain.Date  `json:"last_processed_day,omitempty"`
}

// BadgeResponse is one entry of GET /v1/users/{id}/badges.
type BadgeResponse struct {
	Code      domain.BadgeCode `json:"code"`
	Name      string           `json:"name"`
	AwardedAt time.Time        `json:"awarded_at"`
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) handleStreak(w http.ResponseWriter, r *http.Request) {
	user := domain.UserID(chi.URLParam(r, "id"))

	resp, err := readThrough(r.Context(), s, cache.KindStreak, user, func(ctx context.Context) (StreakResponse, error) {
		state, ok, err := s.store.GetStreak(ctx, user)
		if err != nil {
			return StreakResponse{}, err
		}
		if !ok {
			return StreakResponse{}, domain.ErrUserNotFound
		}
		return StreakResponse{
			UserID:           user,
			CurrentStreak:    state.CurrentStreak,
			LongestStreak:    state.LongestStreak,
			LastActiveDate:   state.LastActiveDate,
			LastProcessedDay: state.LastProcessedDay,
		}, nil
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBadges(w http.ResponseWriter, r *http.Request) {
	user := domain.UserID(chi.URLParam(r, "id"))

	resp, err := readThrough(r.Context(), s, cache.KindBadges, user, func(ctx context.Context) ([]BadgeResponse, error) {
		awards, err := s.store.ListAwards(ctx, user)
		if err != nil {
			return nil, err
		}
		out := make([]BadgeResponse, 0, len(awards))
		for _, a := range awards {
			name := string(a.Code)
			if def, err := engagement.Definition(a.Code); err == nil {
				name = def.Name
			}
			out = append(out, BadgeResponse{Code: a.Code, Name: name, AwardedAt: a.AwardedAt})
		}
		return out, nil
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": user,
		"badges":  resp,
	})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"badges": engagement.Catalog(),
	})
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LatestRun(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "no batch run recorded yet")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if runs == nil {
		runs = []domain.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func readThrough[T any](ctx context.Context, s *Server, kind string, user domain.UserID, load func(context.Context) (T, error)) (T, error) {
	if s.cache == nil {
		return load(ctx)
	}
	return cache.ReadThrough(ctx, s.cache, kind, user, s.ttl, load)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		s.log.Warn("store unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		s.log.Error("store read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
