package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/checks-optimizer/internal/service"
	"github.com/Checker-Finance/checks-optimizer/internal/store"
	"github.com/Checker-Finance/checks-optimizer/pkg/model"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// Optimizer produces optimization reports.
type Optimizer interface {
	Report(ctx context.Context, forceRefresh bool) (*service.Report, error)
	LastReport(ctx context.Context) (*service.Report, error)
}

// UpdateClock reads the last successful refresh time.
type UpdateClock interface {
	LastUpdate(ctx context.Context) (time.Time, error)
}

// RunHistory reads persisted optimizer runs.
type RunHistory interface {
	RecentRuns(ctx context.Context, limit int) ([]model.RunSummary, error)
}

// Handler serves the optimizer's HTTP API.
type Handler struct {
	logger    *zap.Logger
	optimizer Optimizer
	updates   UpdateClock
	history   RunHistory
}

// NewHandler creates a Handler. updates and history are optional;
// without them the matching routes answer 404 and 503 respectively.
func NewHandler(logger *zap.Logger, optimizer Optimizer, updates UpdateClock, history RunHistory) *Handler {
	return &Handler{
		logger:    logger,
		optimizer: optimizer,
		updates:   updates,
		history:   history,
	}
}

// Optimize answers GET /api/v1/optimize[?refresh=true].
func (h *Handler) Optimize(c *fiber.Ctx) error {
	force := false
	if raw := c.Query("refresh"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "invalid_parameter", "refresh must be a boolean")
		}
		force = v
	}

	report, err := h.optimizer.Report(c.Context(), force)
	if err != nil {
		h.logger.Error("api.optimize.failed", zap.Bool("refresh", force), zap.Error(err))
		if errors.Is(err, model.ErrSourceUnavailable) {
			return writeError(c, fiber.StatusServiceUnavailable, "source_unavailable", err.Error())
		}
		return writeError(c, fiber.StatusInternalServerError, "internal_error", err.Error())
	}
	if report.Stale {
		c.Set("Warning", `110 - "stale snapshot"`)
	}
	return c.Status(fiber.StatusOK).JSON(report)
}

// LastReport answers GET /api/v1/optimize/last with the most recently saved report.
// It never contacts the listing source.
func (h *Handler) LastReport(c *fiber.Ctx) error {
	report, err := h.optimizer.LastReport(c.Context())
	if errors.Is(err, service.ErrNoReport) {
		return writeError(c, fiber.StatusNotFound, "not_found", err.Error())
	} else if err != nil {
		h.logger.Error("api.last_report.failed", zap.Error(err))
		return writeError(c, fiber.StatusServiceUnavailable, "store_unavailable", err.Error())
	}
	return c.JSON(report)
}

// LastUpdate answers GET /api/v1/last-update.
func (h *Handler) LastUpdate(c *fiber.Ctx) error {
	if h.updates == nil {
		return writeError(c, fiber.StatusNotFound, "not_found", "no refresh recorded")
	}
	t, err := h.updates.LastUpdate(c.Context())
	if errors.Is(err, store.ErrNotFound) {
		return writeError(c, fiber.StatusNotFound, "not_found", "no refresh recorded")
	} else if err != nil {
		h.logger.Error("api.last_update.failed", zap.Error(err))
		return writeError(c, fiber.StatusServiceUnavailable, "store_unavailable", err.Error())
	}
	return c.JSON(LastUpdateResponse{LastUpdateTime: t, LastUpdateMs: t.UnixMilli()})
}

// History answers GET /api/v1/history[?limit=N].
func (h *Handler) History(c *fiber.Ctx) error {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return writeError(c, fiber.StatusBadRequest, "invalid_parameter", "limit must be a positive integer")
		}
		limit = min(n, maxHistoryLimit)
	}

	if h.history == nil {
		return writeError(c, fiber.StatusServiceUnavailable, "history_disabled", store.ErrHistoryDisabled.Error())
	}
	runs, err := h.history.RecentRuns(c.Context(), limit)
	if errors.Is(err, store.ErrHistoryDisabled) {
		return writeError(c, fiber.StatusServiceUnavailable, "history_disabled", err.Error())
	} else if err != nil {
		h.logger.Error("api.history.failed", zap.Int("limit", limit), zap.Error(err))
		return writeError(c, fiber.StatusServiceUnavailable, "store_unavailable", err.Error())
	}
	if runs == nil {
		runs = []model.RunSummary{}
	}
	return c.JSON(HistoryResponse{Count: len(runs), Runs: runs})
}
