package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/punchamoorthee/referralops/internal/models"
	"github.com/punchamoorthee/referralops/internal/service"
)

// Pinger reports storage health for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	service      *service.ReferralService
	log          *zap.Logger
	pinger       Pinger
	maxBodyBytes int64
}

func NewHandler(svc *service.ReferralService, log *zap.Logger, pinger Pinger, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &Handler{service: svc, log: log, pinger: pinger, maxBodyBytes: maxBodyBytes}
}

var errEmptyBody = errors.New("empty body")

// decodeJSON reads at most maxBodyBytes and rejects unknown fields.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
