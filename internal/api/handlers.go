package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/punchamoorthee/referralops/internal/domain"
	"github.com/punchamoorthee/referralops/internal/models"
	"github.com/punchamoorthee/referralops/internal/report"
	"github.com/punchamoorthee/referralops/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetCodeHandler(w http.ResponseWriter, r *http.Request) {
	code, err := h.service.GenerateReferralCode(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		if !errors.Is(err, service.ErrCodeGenerationExhausted) {
			h.log.Error("referral code lookup failed", zap.Error(err))
		}
		respondWithError(w, http.StatusInternalServerError, "Unable to issue referral code")
		return
	}
	respondWithJSON(w, http.StatusOK, models.CodeResponse{Code: code})
}

func (h *Handler) GetStatsHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	stats, err := h.service.GetUserReferralStats(r.Context(), userID)
	if err != nil {
		h.log.Error("referral stats failed", zap.String("user_id", userID), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

// ProcessReferralHandler is called by the registration flow. Business
// rejections come back as 200 with success=false.
func (h *Handler) ProcessReferralHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ProcessReferralRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.ReferredUserID == "" || req.ReferralCode == "" {
		respondWithError(w, http.StatusBadRequest, "referredUserId and referralCode are required")
		return
	}

	respondWithJSON(w, http.StatusOK, h.service.ProcessReferral(r.Context(), req.ReferredUserID, req.ReferralCode))
}

func (h *Handler) ValidateCodeHandler(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	respondWithJSON(w, http.StatusOK, h.service.ValidateReferralCode(r.Context(), code))
}

// TransactionCompletedHandler is the payments hook. It accepts every
// well-formed event; the outcome is informational.
func (h *Handler) TransactionCompletedHandler(w http.ResponseWriter, r *http.Request) {
	var req models.TransactionCompletedRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.UserID == "" || req.Currency == "" {
		respondWithError(w, http.StatusBadRequest, "userId and currency are required")
		return
	}
	if !req.Amount.Valid || req.Amount.Decimal.IsNegative() {
		respondWithError(w, http.StatusBadRequest, "amount must be a non-negative number")
		return
	}

	outcome := h.service.ProcessFirstTransaction(r.Context(), req.UserID, req.Amount.Decimal, req.Currency)
	respondWithJSON(w, http.StatusAccepted, models.TransactionCompletedResponse{Accepted: true, Outcome: string(outcome)})
}

// rewardFilter parses ?status= and ?limit= for the admin reward routes.
func rewardFilter(r *http.Request) (domain.RewardFilter, error) {
	q := r.URL.Query()
	f := domain.RewardFilter{
		Status: domain.RewardStatus(q.Get("status")),
		UserID: q.Get("userId"),
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, fmt.Errorf("unknown status %q", f.Status)
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", raw)
		}
		f.Limit = n
	}
	return f, nil
}

func (h *Handler) ListRewardsHandler(w http.ResponseWriter, r *http.Request) {
	f, err := rewardFilter(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	rewards, err := h.service.ListRewards(r.Context(), f)
	if err != nil {
		h.log.Error("list rewards failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	respondWithJSON(w, http.StatusOK, models.RewardListResponse{Rewards: rewards, Count: len(rewards)})
}

func (h *Handler) ExportRewardsHandler(w http.ResponseWriter, r *http.Request) {
	f, err := rewardFilter(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	rewards, err := h.service.ListRewards(r.Context(), f)
	if err != nil {
		h.log.Error("export rewards failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	var buf bytes.Buffer
	if err := report.WriteRewards(&buf, rewards); err != nil {
		h.log.Error("render rewards workbook failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	filename := fmt.Sprintf("rewards-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handler) ApproveRewardHandler(w http.ResponseWriter, r *http.Request) {
	rewardID := mux.Vars(r)["id"]
	res := h.service.ApproveAndPayReward(r.Context(), rewardID, UserIDFromContext(r.Context()))

	switch {
	case res.Success:
		respondWithJSON(w, http.StatusOK, res)
	case res.Error == service.MsgInvalidReward:
		respondWithJSON(w, http.StatusUnprocessableEntity, res)
	default:
		respondWithJSON(w, http.StatusInternalServerError, res)
	}
}

func (h *Handler) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.service.ListCampaigns(r.Context())
	if err != nil {
		h.log.Error("list campaigns failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	respondWithJSON(w, http.StatusOK, models.CampaignListResponse{Campaigns: campaigns})
}

func (h *Handler) CreateCampaignHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateCampaignRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	campaign := req.Campaign()
	if err := h.service.CreateCampaign(r.Context(), &campaign); err != nil {
		if errors.Is(err, service.ErrInvalidCampaign) {
			respondWithError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.log.Error("create campaign failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	w.Header().Set("Location", "/api/v1/referrals/admin/campaigns/"+campaign.ID)
	respondWithJSON(w, http.StatusCreated, campaign)
}
