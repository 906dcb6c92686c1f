/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the loyalty domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Vouchers:      VoucherDTO, BatchDTO, CreateBatchRequest, RedeemVoucherRequest
  Wallet:        WalletDTO, EntryDTO, ReconciliationDTO
  Rewards:       RewardDTO, RewardRequest, RedemptionDTO
  Notifications: NotificationDTO
  Admin:         StatsDTO, AuditReportDTO
  Scenarios:     ScenarioDTO, LoadScenarioRequest, LoadScenarioResponse

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/points-engine/loyalty"
)

// =============================================================================
// VOUCHERS
// =============================================================================

type VoucherDTO struct {
	Code       string  `json:"code"`
	BatchID    string  `json:"batch_id"`
	BatchName  string  `json:"batch_name,omitempty"`
	Points     int64   `json:"points"`
	State      string  `json:"state"`
	RedeemedBy string  `json:"redeemed_by,omitempty"`
	RedeemedAt *string `json:"redeemed_at,omitempty"`
}

type BatchDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TotalCount  int    `json:"total_count"`
	TotalPoints int64  `json:"total_points"`
	Redeemed    int    `json:"redeemed"`
	Available   int    `json:"available"`
	CreatedAt   string `json:"created_at"`
}

type TierDTO struct {
	Weight float64 `json:"weight"`
	Min    int64   `json:"min"`
	Max    int64   `json:"max"`
}

// SplitDTO describes a two-value batch: LowPercent of the codes are worth
// exactly Low points and the rest exactly High.
type SplitDTO struct {
	LowPercent int64 `json:"low_percent"`
	Low        int64 `json:"low"`
	High       int64 `json:"high"`
}

// CreateBatchRequest uses Tiers, else Split, else the standard 50/40/10
// distribution.
type CreateBatchRequest struct {
	Name  string    `json:"name"`
	Count int       `json:"count"`
	Tiers []TierDTO `json:"tiers,omitempty"`
	Split *SplitDTO `json:"split,omitempty"`
}

type CreateBatchResponse struct {
	Batch    BatchDTO     `json:"batch"`
	Vouchers []VoucherDTO `json:"vouchers"`
}

type RedeemVoucherRequest struct {
	Code string `json:"code"`
}

type RedeemVoucherResponse struct {
	Voucher VoucherDTO `json:"voucher"`
	Earned  int64      `json:"earned"`
	Balance int64      `json:"balance"`
}

// =============================================================================
// WALLET
// =============================================================================

type WalletDTO struct {
	UserID    string  `json:"user_id"`
	Balance   int64   `json:"balance"`
	Entries   int64   `json:"entries"`
	UpdatedAt *string `json:"updated_at,omitempty"`
}

type EntryDTO struct {
	Seq         int64  `json:"seq"`
	Amount      int64  `json:"amount"`
	Category    string `json:"category"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

type ReconciliationDTO struct {
	UserID     string `json:"user_id"`
	Balance    int64  `json:"balance"`
	EntrySum   int64  `json:"entry_sum"`
	Entries    int64  `json:"entries"`
	Consistent bool   `json:"consistent"`
}

// =============================================================================
// REWARDS
// =============================================================================

type RewardDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Cost        int64  `json:"cost"`
	Stock       int    `json:"stock"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// RewardRequest creates or fully replaces a reward. Active defaults to true
// when omitted.
type RewardRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Cost        int64  `json:"cost"`
	Stock       int    `json:"stock"`
	Active      *bool  `json:"active,omitempty"`
}

type RedemptionDTO struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	RewardID    string  `json:"reward_id"`
	RewardName  string  `json:"reward_name"`
	PointsSpent int64   `json:"points_spent"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	DecidedAt   *string `json:"decided_at,omitempty"`
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type NotificationDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id,omitempty"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Broadcast bool   `json:"broadcast"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}

type NotificationListResponse struct {
	Notifications []NotificationDTO `json:"notifications"`
	Unread        int               `json:"unread"`
}

// =============================================================================
// ADMIN
// =============================================================================

type StatsDTO struct {
	Wallets           int64 `json:"wallets"`
	VouchersIssued    int64 `json:"vouchers_issued"`
	VouchersRedeemed  int64 `json:"vouchers_redeemed"`
	PointsDistributed int64 `json:"points_distributed"`
	PointsRedeemed    int64 `json:"points_redeemed"`
	Liability         int64 `json:"liability"`
	PendingRequests   int64 `json:"pending_requests"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toVoucherDTO(v loyalty.Voucher) VoucherDTO {
	return VoucherDTO{
		Code:       string(v.Code),
		BatchID:    string(v.BatchID),
		BatchName:  v.BatchName,
		Points:     int64(v.Points),
		State:      string(v.State),
		RedeemedBy: string(v.RedeemedBy),
		RedeemedAt: formatTimePtr(v.RedeemedAt),
	}
}

func toVoucherDTOs(vs []loyalty.Voucher) []VoucherDTO {
	out := make([]VoucherDTO, len(vs))
	for i, v := range vs {
		out[i] = toVoucherDTO(v)
	}
	return out
}

func toBatchDTO(b loyalty.BatchSummary) BatchDTO {
	return BatchDTO{
		ID:          string(b.ID),
		Name:        b.Name,
		TotalCount:  b.TotalCount,
		TotalPoints: int64(b.TotalPoints),
		Redeemed:    b.Redeemed,
		Available:   b.Available,
		CreatedAt:   formatTime(b.CreatedAt),
	}
}

func toEntryDTO(e loyalty.Entry) EntryDTO {
	return EntryDTO{
		Seq:         e.Seq,
		Amount:      int64(e.Amount),
		Category:    string(e.Category),
		Description: e.Description,
		CreatedAt:   formatTime(e.CreatedAt),
	}
}

func toRewardDTO(r loyalty.Reward) RewardDTO {
	return RewardDTO{
		ID:          string(r.ID),
		Name:        r.Name,
		Description: r.Description,
		Cost:        int64(r.Cost),
		Stock:       r.Stock,
		Active:      r.Active,
		CreatedAt:   formatTime(r.CreatedAt),
		UpdatedAt:   formatTime(r.UpdatedAt),
	}
}

func toRedemptionDTO(r loyalty.RedemptionRequest) RedemptionDTO {
	return RedemptionDTO{
		ID:          string(r.ID),
		UserID:      string(r.UserID),
		RewardID:    string(r.RewardID),
		RewardName:  r.RewardName,
		PointsSpent: int64(r.PointsSpent),
		Status:      string(r.Status),
		CreatedAt:   formatTime(r.CreatedAt),
		DecidedAt:   formatTimePtr(r.DecidedAt),
	}
}

func toNotificationDTO(n loyalty.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        string(n.ID),
		UserID:    string(n.UserID),
		Title:     n.Title,
		Message:   n.Message,
		Broadcast: n.Broadcast,
		Read:      n.Read,
		CreatedAt: formatTime(n.CreatedAt),
	}
}

func (req RewardRequest) toInput() loyalty.RewardInput {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return loyalty.RewardInput{
		Name:        req.Name,
		Description: req.Description,
		Cost:        loyalty.Points(req.Cost),
		Stock:       req.Stock,
		Active:      active,
	}
}

func (req CreateBatchRequest) toSpec() loyalty.BatchSpec {
	spec := loyalty.BatchSpec{Name: req.Name, Count: req.Count}
	switch {
	case len(req.Tiers) > 0:
		for _, t := range req.Tiers {
			spec.Tiers = append(spec.Tiers, loyalty.NewTier(t.Weight, loyalty.Points(t.Min), loyalty.Points(t.Max)))
		}
	case req.Split != nil:
		spec.Tiers = loyalty.SplitTiers(req.Split.LowPercent, loyalty.Points(req.Split.Low), loyalty.Points(req.Split.High))
	default:
		spec.Tiers = loyalty.StandardTiers()
	}
	return spec
}

type AuditReportDTO struct {
	StartedAt  string              `json:"started_at"`
	DurationMS int64               `json:"duration_ms"`
	Checked    int                 `json:"checked"`
	Broken     []ReconciliationDTO `json:"broken"`
	Error      string              `json:"error,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type LoadScenarioResponse struct {
	Scenario string      `json:"scenario"`
	Rewards  []RewardDTO `json:"rewards,omitempty"`
	Batch    *BatchDTO   `json:"batch,omitempty"`
}

func toReconciliationDTO(rec loyalty.Reconciliation) ReconciliationDTO {
	return ReconciliationDTO{
		UserID:     string(rec.UserID),
		Balance:    int64(rec.Balance),
		EntrySum:   int64(rec.EntrySum),
		Entries:    rec.Entries,
		Consistent: rec.Consistent(),
	}
}

func toAuditReportDTO(r AuditReport) AuditReportDTO {
	dto := AuditReportDTO{
		StartedAt:  formatTime(r.StartedAt),
		DurationMS: r.Duration.Milliseconds(),
		Checked:    r.Checked,
		Broken:     make([]ReconciliationDTO, len(r.Broken)),
	}
	for i, rec := range r.Broken {
		dto.Broken[i] = toReconciliationDTO(rec)
	}
	if r.Err != nil {
		dto.Error = r.Err.Error()
	}
	return dto
}
