package controllers

import (
	"net/http"
	"strconv"

	"github.com/appealpost/appealpost-backend/api/responses"
	"github.com/appealpost/appealpost-backend/internal/opsqueue"
	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
	"github.com/appealpost/appealpost-backend/pkg/logger"
)

// ListOperatorTasks returns recent manual-review tasks, newest first.
func ListOperatorTasks(svc *opsqueue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "operator queue unavailable"))
			return
		}

		limit := queryInt(r, "limit", 50)
		offset := queryInt(r, "offset", 0)

		tasks, err := svc.List(ctx, limit, offset)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"tasks":  tasks,
			"limit":  limit,
			"offset": offset,
		})
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
