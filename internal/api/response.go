package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Checker-Finance/checks-optimizer/pkg/model"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// LastUpdateResponse reports the last successful catalog refresh.
type LastUpdateResponse struct {
	LastUpdateTime time.Time `json:"lastUpdateTime"`
	LastUpdateMs   int64     `json:"lastUpdateMs"`
}

// HistoryResponse lists recent optimizer runs, newest first.
type HistoryResponse struct {
	Count int                `json:"count"`
	Runs  []model.RunSummary `json:"runs"`
}

func writeError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(ErrorResponse{Error: code, Message: message})
}
