/*
handlers.go - HTTP API handlers for the loyalty points engine

PURPOSE:
  Exposes the loyalty engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine services.

ENDPOINTS:
  User (X-User-ID):
    POST   /api/vouchers/redeem              Redeem a voucher code
    GET    /api/vouchers/{code}              Look up a voucher
    GET    /api/wallet                       Balance
    GET    /api/wallet/transactions?limit=   Ledger history, newest first
    GET    /api/rewards                      Active catalog
    POST   /api/rewards/{id}/redeem          Request a reward
    GET    /api/redemptions?status=          Own redemption requests
    GET    /api/notifications?unread=        Own notifications
    POST   /api/notifications/{id}/read      Mark own notification read

  Operator (X-Operator-ID):
    POST   /api/admin/batches                Generate a voucher batch
    GET    /api/admin/batches                Batch summaries
    GET    /api/admin/batches/{id}           One batch summary
    DELETE /api/admin/batches/{id}           Delete batch and its vouchers
    GET    /api/admin/batches/{id}/vouchers  Vouchers of a batch
    GET    /api/admin/rewards                Full catalog
    POST   /api/admin/rewards                Create reward
    PUT    /api/admin/rewards/{id}           Replace reward
    GET    /api/admin/redemptions?status=&user_id=
    POST   /api/admin/redemptions/{id}/approve
    POST   /api/admin/redemptions/{id}/reject
    GET    /api/admin/notifications?user_id=&unread=
                                             Broadcasts, or one user's notifications
    POST   /api/admin/notifications/{id}/read
    GET    /api/admin/stats                  Program totals
    GET    /api/admin/wallets/{user}         Any user's balance
    GET    /api/admin/wallets/{user}/transactions?limit=
    GET    /api/admin/wallets/{user}/verify  Balance vs ledger check
    GET    /api/admin/audit                  Last ledger audit
    POST   /api/admin/audit                  Audit every wallet now
    GET    /api/admin/scenarios              Demo data sets
    POST   /api/admin/scenarios/load         Load a demo data set

ERROR HANDLING:
  Engine errors are mapped in errors.go:
  - 400: Validation errors, invalid input
  - 402: Insufficient balance
  - 403: Not allowed to touch the notification
  - 404: Resource not found
  - 409: Already redeemed, out of stock, request already decided
  - 503: Storage contention, safe to retry

SEE ALSO:
  - dto.go: Request/response data structures
  - identity.go: Caller extraction
  - scheduler.go: Periodic ledger audit
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/points-engine/loyalty"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *loyalty.Engine
	Log    *zap.Logger

	// Ping backs /healthz. Optional.
	Ping func(context.Context) error

	// Audit backs /api/admin/audit. Optional.
	Audit *AuditScheduler
}

func NewHandler(engine *loyalty.Engine, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Engine: engine, Log: log}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			h.Log.Error("health check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// VOUCHER HANDLERS
// =============================================================================

func (h *Handler) RedeemVoucher(w http.ResponseWriter, r *http.Request) {
	var req RedeemVoucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Engine.Vouchers.Redeem(r.Context(), loyalty.VoucherCode(req.Code), userFrom(r))
	if err != nil {
		h.fail(w, r, "Failed to redeem voucher", err)
		return
	}

	writeJSON(w, http.StatusOK, RedeemVoucherResponse{
		Voucher: toVoucherDTO(res.Voucher),
		Earned:  int64(res.Earned),
		Balance: int64(res.Balance),
	})
}

func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	v, err := h.Engine.Vouchers.Lookup(r.Context(), loyalty.VoucherCode(chi.URLParam(r, "code")))
	if err != nil {
		h.fail(w, r, "Failed to get voucher", err)
		return
	}
	writeJSON(w, http.StatusOK, toVoucherDTO(v))
}

func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	batch, vouchers, err := h.Engine.Vouchers.GenerateBatch(r.Context(), req.toSpec())
	if err != nil {
		h.fail(w, r, "Failed to generate batch", err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateBatchResponse{
		Batch: toBatchDTO(loyalty.BatchSummary{
			Batch:     batch,
			Available: batch.TotalCount,
		}),
		Vouchers: toVoucherDTOs(vouchers),
	})
}

func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.Engine.Vouchers.ListBatches(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list batches", err)
		return
	}

	dtos := make([]BatchDTO, len(batches))
	for i, b := range batches {
		dtos[i] = toBatchDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.Vouchers.GetBatch(r.Context(), loyalty.BatchID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get batch", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(b))
}

func (h *Handler) ListBatchVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.Engine.Vouchers.BatchVouchers(r.Context(), loyalty.BatchID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to list vouchers", err)
		return
	}
	writeJSON(w, http.StatusOK, toVoucherDTOs(vouchers))
}

func (h *Handler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Vouchers.DeleteBatch(r.Context(), loyalty.BatchID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, r, "Failed to delete batch", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	h.writeWallet(w, r, userFrom(r))
}

// GetUserWallet lets an operator read any user's balance.
func (h *Handler) GetUserWallet(w http.ResponseWriter, r *http.Request) {
	h.writeWallet(w, r, loyalty.UserID(chi.URLParam(r, "user")))
}

func (h *Handler) writeWallet(w http.ResponseWriter, r *http.Request, user loyalty.UserID) {
	wallet, err := h.Engine.Wallets.Wallet(r.Context(), user)
	if err != nil {
		h.fail(w, r, "Failed to get wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(user, wallet))
}

func toWalletDTO(user loyalty.UserID, wallet loyalty.Wallet) WalletDTO {
	dto := WalletDTO{
		UserID:  string(user),
		Balance: int64(wallet.Balance),
		Entries: wallet.Seq,
	}
	if !wallet.UpdatedAt.IsZero() {
		dto.UpdatedAt = formatTimePtr(&wallet.UpdatedAt)
	}
	return dto
}

// GetTransactions returns up to ?limit= entries, newest first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	h.writeTransactions(w, r, userFrom(r))
}

func (h *Handler) GetUserTransactions(w http.ResponseWriter, r *http.Request) {
	h.writeTransactions(w, r, loyalty.UserID(chi.URLParam(r, "user")))
}

func (h *Handler) writeTransactions(w http.ResponseWriter, r *http.Request, user loyalty.UserID) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries := make([]EntryDTO, 0, limit)
	for e, err := range h.Engine.Wallets.ListTransactions(r.Context(), user) {
		if err != nil {
			h.fail(w, r, "Failed to list transactions", err)
			return
		}
		entries = append(entries, toEntryDTO(e))
		if len(entries) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) VerifyWallet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Engine.Wallets.Verify(r.Context(), loyalty.UserID(chi.URLParam(r, "user")))
	if err != nil {
		h.fail(w, r, "Failed to verify wallet", err)
		return
	}
	if !rec.Consistent() {
		h.Log.Error("wallet out of balance",
			zap.String("user_id", string(rec.UserID)),
			zap.Int64("balance", int64(rec.Balance)),
			zap.Int64("entry_sum", int64(rec.EntrySum)))
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(rec))
}

// =============================================================================
// REWARD HANDLERS
// =============================================================================

// ListRewards returns the active catalog to users.
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	h.listRewards(w, r, true)
}

// ListAllRewards includes inactive rewards.
func (h *Handler) ListAllRewards(w http.ResponseWriter, r *http.Request) {
	h.listRewards(w, r, false)
}

func (h *Handler) listRewards(w http.ResponseWriter, r *http.Request, activeOnly bool) {
	rewards, err := h.Engine.Redemptions.ListRewards(r.Context(), activeOnly)
	if err != nil {
		h.fail(w, r, "Failed to list rewards", err)
		return
	}

	dtos := make([]RewardDTO, len(rewards))
	for i, rw := range rewards {
		dtos[i] = toRewardDTO(rw)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	var req RewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	reward, err := h.Engine.Redemptions.CreateReward(r.Context(), req.toInput())
	if err != nil {
		h.fail(w, r, "Failed to create reward", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRewardDTO(reward))
}

func (h *Handler) UpdateReward(w http.ResponseWriter, r *http.Request) {
	var req RewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	reward, err := h.Engine.Redemptions.UpdateReward(r.Context(), loyalty.RewardID(chi.URLParam(r, "id")), req.toInput())
	if err != nil {
		h.fail(w, r, "Failed to update reward", err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(reward))
}

// =============================================================================
// REDEMPTION HANDLERS
// =============================================================================

func (h *Handler) RequestRedemption(w http.ResponseWriter, r *http.Request) {
	req, err := h.Engine.Redemptions.RequestRedemption(r.Context(), userFrom(r), loyalty.RewardID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to redeem reward", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRedemptionDTO(req))
}

// ListMyRedemptions is scoped to the calling user.
func (h *Handler) ListMyRedemptions(w http.ResponseWriter, r *http.Request) {
	h.listRedemptions(w, r, loyalty.RequestFilter{
		UserID: userFrom(r),
		Status: loyalty.RequestStatus(r.URL.Query().Get("status")),
	})
}

func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	h.listRedemptions(w, r, loyalty.RequestFilter{
		UserID: loyalty.UserID(r.URL.Query().Get("user_id")),
		Status: loyalty.RequestStatus(r.URL.Query().Get("status")),
	})
}

func (h *Handler) listRedemptions(w http.ResponseWriter, r *http.Request, filter loyalty.RequestFilter) {
	reqs, err := h.Engine.Redemptions.ListRequests(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list redemptions", err)
		return
	}

	dtos := make([]RedemptionDTO, len(reqs))
	for i, req := range reqs {
		dtos[i] = toRedemptionDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ApproveRedemption(w http.ResponseWriter, r *http.Request) {
	req, err := h.Engine.Redemptions.Approve(r.Context(), loyalty.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to approve redemption", err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(req))
}

func (h *Handler) RejectRedemption(w http.ResponseWriter, r *http.Request) {
	req, err := h.Engine.Redemptions.Reject(r.Context(), loyalty.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to reject redemption", err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(req))
}

// =============================================================================
// NOTIFICATION HANDLERS
// =============================================================================

func (h *Handler) ListMyNotifications(w http.ResponseWriter, r *http.Request) {
	h.listNotifications(w, r, loyalty.NotificationFilter{UserID: userFrom(r)})
}

// ListBroadcasts returns operator broadcasts, or one user's notifications
// when ?user_id= is set.
func (h *Handler) ListBroadcasts(w http.ResponseWriter, r *http.Request) {
	if user := r.URL.Query().Get("user_id"); user != "" {
		h.listNotifications(w, r, loyalty.NotificationFilter{UserID: loyalty.UserID(user)})
		return
	}
	h.listNotifications(w, r, loyalty.NotificationFilter{Broadcasts: true})
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request, filter loyalty.NotificationFilter) {
	if raw := r.URL.Query().Get("unread"); raw != "" {
		unread, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid unread flag", err)
			return
		}
		filter.UnreadOnly = unread
	}

	notes, err := h.Engine.Notifications.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list notifications", err)
		return
	}
	unread, err := h.Engine.Notifications.UnreadCount(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to count notifications", err)
		return
	}

	resp := NotificationListResponse{
		Notifications: make([]NotificationDTO, len(notes)),
		Unread:        unread,
	}
	for i, n := range notes {
		resp.Notifications[i] = toNotificationDTO(n)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.Engine.Notifications.MarkRead(r.Context(), loyalty.NotificationID(chi.URLParam(r, "id")), callerFrom(r))
	if err != nil {
		h.fail(w, r, "Failed to mark notification read", err)
		return
	}
	writeJSON(w, http.StatusOK, toNotificationDTO(n))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.Stats(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, StatsDTO{
		Wallets:           s.Wallets,
		VouchersIssued:    s.VouchersIssued,
		VouchersRedeemed:  s.VouchersRedeemed,
		PointsDistributed: int64(s.PointsDistributed),
		PointsRedeemed:    int64(s.PointsRedeemed),
		Liability:         int64(s.Liability),
		PendingRequests:   s.PendingRequests,
	})
}

// RunAudit verifies every wallet now and returns the report.
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		writeError(w, http.StatusNotFound, "Ledger audit not configured", nil)
		return
	}
	report := h.Audit.RunNow(r.Context())
	if report.Err != nil {
		h.fail(w, r, "Ledger audit failed", report.Err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

// GetAudit returns the last scheduled or manual audit.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		writeError(w, http.StatusNotFound, "Ledger audit not configured", nil)
		return
	}
	report, ok := h.Audit.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "No audit has run yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
