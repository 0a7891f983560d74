/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run them
  through Handler.validate before touching domain logic. DTOs stay pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: The domain model these mirror
*/
package api

import (
	"time"

	"github.com/spark/kudos-engine/ledger"
	"github.com/spark/kudos-engine/store/sqlite"
)

// =============================================================================
// USERS
// =============================================================================

// UserDTO represents an employee in API responses.
type UserDTO struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	BusinessUnit   string `json:"business_unit,omitempty"`
	Department     string `json:"department,omitempty"`
	Branch         string `json:"branch,omitempty"`
	Role           string `json:"role"`
	QuotaRemaining string `json:"quota_remaining"`
	PointsBalance  string `json:"points_balance"`
	CreatedAt      string `json:"created_at,omitempty"`
}

func toUserDTO(u *ledger.User) UserDTO {
	return UserDTO{
		ID:             string(u.ID),
		Code:           u.Code,
		Name:           u.Name,
		Email:          u.Email,
		BusinessUnit:   u.BusinessUnit,
		Department:     u.Department,
		Branch:         u.Branch,
		Role:           u.Role,
		QuotaRemaining: u.QuotaRemaining.String(),
		PointsBalance:  u.PointsBalance.String(),
		CreatedAt:      formatTime(u.CreatedAt),
	}
}

// SaveUserRequest creates or updates an employee.
type SaveUserRequest struct {
	Code         string `json:"code" validate:"required"`
	Name         string `json:"name" validate:"required"`
	Email        string `json:"email" validate:"omitempty,email"`
	BusinessUnit string `json:"business_unit"`
	Department   string `json:"department"`
	Branch       string `json:"branch"`
	Role         string `json:"role" validate:"omitempty,oneof=employee admin"`
}

// =============================================================================
// AUTH
// =============================================================================

// LoginRequest authenticates by employee code.
type LoginRequest struct {
	Code string `json:"code" validate:"required"`
}

// LoginResponse carries the session token and the authenticated user.
type LoginResponse struct {
	Token string  `json:"token"`
	User  UserDTO `json:"user"`
}

// =============================================================================
// GIVES
// =============================================================================

// GiveRequest is a single-recipient give.
type GiveRequest struct {
	ToUserID   string `json:"to_user_id" validate:"required"`
	Amount     int64  `json:"amount" validate:"required,gt=0"`
	CategoryID string `json:"category_id"`
	Message    string `json:"message" validate:"max=500"`
	Source     string `json:"source" validate:"omitempty,oneof=manual qr"`
}

// GroupGiveRequest splits one give across multiple recipients.
type GroupGiveRequest struct {
	Allocations []GiveAllocation `json:"allocations" validate:"required,min=1,dive"`
	CategoryID  string           `json:"category_id"`
	Message     string           `json:"message" validate:"max=500"`
}

// GiveAllocation is one recipient's share of a group give.
type GiveAllocation struct {
	ToUserID string `json:"to_user_id" validate:"required"`
	Amount   int64  `json:"amount" validate:"required,gt=0"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO represents a ledger entry in API responses.
type TransactionDTO struct {
	ID          string           `json:"id"`
	Type        string           `json:"type"`
	FromUserID  string           `json:"from_user_id,omitempty"`
	ToUserID    string           `json:"to_user_id,omitempty"`
	Amount      string           `json:"amount"`
	Allocations []GiveAllocation `json:"allocations,omitempty"`
	CategoryID  string           `json:"category_id,omitempty"`
	Message     string           `json:"message,omitempty"`
	Source      string           `json:"source,omitempty"`
	ReferenceID string           `json:"reference_id,omitempty"`
	CreatedBy   string           `json:"created_by,omitempty"`
	CreatedAt   string           `json:"created_at"`
}

func toTransactionDTO(tx *ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:          string(tx.ID),
		Type:        string(tx.Type),
		FromUserID:  string(tx.FromUserID),
		ToUserID:    string(tx.ToUserID),
		Amount:      tx.Amount.String(),
		CategoryID:  tx.CategoryID,
		Message:     tx.Message,
		Source:      string(tx.Source),
		ReferenceID: tx.ReferenceID,
		CreatedBy:   tx.CreatedBy,
		CreatedAt:   formatTime(tx.CreatedAt),
	}
	for _, a := range tx.Allocations {
		dto.Allocations = append(dto.Allocations, GiveAllocation{
			ToUserID: string(a.ToUserID),
			Amount:   a.Amount.IntPart(),
		})
	}
	return dto
}

// =============================================================================
// REWARDS
// =============================================================================

// RewardDTO represents a catalog entry.
type RewardDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category,omitempty"`
	PointsCost string `json:"points_cost"`
	Stock      int    `json:"stock"`
	IsPhysical bool   `json:"is_physical"`
	Status     string `json:"status"`
}

func toRewardDTO(r *ledger.RewardItem) RewardDTO {
	return RewardDTO{
		ID:         string(r.ID),
		Name:       r.Name,
		Category:   r.Category,
		PointsCost: r.PointsCost.String(),
		Stock:      r.Stock,
		IsPhysical: r.IsPhysical,
		Status:     string(r.Status),
	}
}

// SaveRewardRequest creates or updates a catalog entry.
type SaveRewardRequest struct {
	Name       string `json:"name" validate:"required"`
	Category   string `json:"category"`
	PointsCost int64  `json:"points_cost" validate:"required,gt=0"`
	Stock      int    `json:"stock" validate:"gte=0"`
	IsPhysical bool   `json:"is_physical"`
	Status     string `json:"status" validate:"omitempty,oneof=active inactive"`
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

// RedeemRequest opens a catalog redemption.
type RedeemRequest struct {
	RewardID     string `json:"reward_id" validate:"required"`
	ShippingType string `json:"shipping_type" validate:"required,oneof=pickup delivery digital"`
	Address      string `json:"address"`
	Phone        string `json:"phone"`
}

// RedemptionDTO represents a redemption request with its workflow state.
type RedemptionDTO struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	RewardID       string `json:"reward_id"`
	TransactionID  string `json:"transaction_id"`
	PointsUsed     string `json:"points_used"`
	Status         string `json:"status"`
	ShippingType   string `json:"shipping_type"`
	ShippingStatus string `json:"shipping_status"`
	Address        string `json:"address,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Carrier        string `json:"carrier,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	DigitalCode    string `json:"digital_code,omitempty"`
	Note           string `json:"note,omitempty"`
	ApprovedBy     string `json:"approved_by,omitempty"`
	ApprovedAt     string `json:"approved_at,omitempty"`
	ShippedAt      string `json:"shipped_at,omitempty"`
	DeliveredAt    string `json:"delivered_at,omitempty"`
	ReturnedAt     string `json:"returned_at,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func toRedemptionDTO(r *ledger.RedemptionRequest) RedemptionDTO {
	return RedemptionDTO{
		ID:             string(r.ID),
		UserID:         string(r.UserID),
		RewardID:       string(r.RewardID),
		TransactionID:  string(r.TransactionID),
		PointsUsed:     r.PointsUsed.String(),
		Status:         string(r.Status),
		ShippingType:   string(r.ShippingType),
		ShippingStatus: string(r.ShippingStatus),
		Address:        r.Address,
		Phone:          r.Phone,
		Carrier:        r.Carrier,
		TrackingNumber: r.TrackingNumber,
		DigitalCode:    r.DigitalCode,
		Note:           r.Note,
		ApprovedBy:     string(r.ApprovedBy),
		ApprovedAt:     formatTimePtr(r.ApprovedAt),
		ShippedAt:      formatTimePtr(r.ShippedAt),
		DeliveredAt:    formatTimePtr(r.DeliveredAt),
		ReturnedAt:     formatTimePtr(r.ReturnedAt),
		CreatedAt:      formatTime(r.CreatedAt),
	}
}

// ApproveRequest approves a pending redemption.
type ApproveRequest struct {
	DigitalCode string `json:"digital_code"`
}

// RejectRequest rejects a pending redemption.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// ShipRequest records carrier and tracking info.
type ShipRequest struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number" validate:"required"`
}

// ReturnRequest marks a shipped/delivered item as returned.
type ReturnRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// =============================================================================
// QUOTA & ADJUSTMENTS
// =============================================================================

// QuotaSettingDTO is the default quota for a role.
type QuotaSettingDTO struct {
	Role         string `json:"role"`
	DefaultQuota string `json:"default_quota"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

// SaveQuotaSettingRequest sets the default quota for a role.
type SaveQuotaSettingRequest struct {
	DefaultQuota int64 `json:"default_quota" validate:"required,gt=0"`
}

// DistributeQuotaRequest bulk-adjusts every user of a role.
type DistributeQuotaRequest struct {
	Role   string `json:"role" validate:"required,oneof=employee admin"`
	Amount int64  `json:"amount" validate:"required"`
}

// QuotaDistributionDTO is one entry of the distribution log.
type QuotaDistributionDTO struct {
	ID            string `json:"id"`
	Role          string `json:"role"`
	Amount        string `json:"amount"`
	AffectedUsers int    `json:"affected_users"`
	AdminID       string `json:"admin_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// AdjustBalanceRequest is a manual admin correction.
type AdjustBalanceRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Delta  int64  `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

// =============================================================================
// NEWS
// =============================================================================

// NewsDTO represents an announcement post.
type NewsDTO struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Published   bool   `json:"published"`
	PublishedAt string `json:"published_at,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toNewsDTO(n *sqlite.News) NewsDTO {
	return NewsDTO{
		ID:          n.ID,
		Title:       n.Title,
		Body:        n.Body,
		ImageURL:    n.ImageURL,
		Published:   n.Published,
		PublishedAt: formatTimePtr(n.PublishedAt),
		CreatedBy:   n.CreatedBy,
		CreatedAt:   formatTime(n.CreatedAt),
	}
}

// SaveNewsRequest creates or updates a news post.
type SaveNewsRequest struct {
	Title    string `json:"title" validate:"required"`
	Body     string `json:"body"`
	ImageURL string `json:"image_url" validate:"omitempty,url"`
}

// =============================================================================
// MISC
// =============================================================================

// ImportResult summarizes a CSV employee import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
