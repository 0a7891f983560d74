/*
handlers.go - HTTP API handlers for the recognition platform

PURPOSE:
  Exposes the points engine, redemption workflow, and admin CRUD via REST.
  Handles HTTP request/response, JSON serialization, and delegates to the
  domain logic.

ENDPOINTS:
  Auth:
    POST   /api/auth/login                   Employee-code login, returns JWT

  Users:
    GET    /api/me                           Current session user
    GET    /api/users                        List employees
    GET    /api/users/{id}                   Employee details
    GET    /api/users/{id}/transactions      Ledger history for one employee
    GET    /api/users/{id}/redemptions       Redemption requests for one employee
    POST   /api/admin/users                  Create employee
    PUT    /api/admin/users/{id}             Update employee
    DELETE /api/admin/users/{id}             Delete (refused while history exists)
    POST   /api/admin/users/import           Bulk CSV import

  Gives:
    POST   /api/gives                        Single-recipient give
    POST   /api/gives/group                  Group give (all-or-nothing)

  Rewards:
    GET    /api/rewards                      Catalog
    POST   /api/admin/rewards                Create reward
    PUT    /api/admin/rewards/{id}           Update reward
    DELETE /api/admin/rewards/{id}           Delete (refused while history exists)

  Redemptions:
    POST   /api/redemptions                  Redeem a reward
    GET    /api/redemptions                  List (admin; ?status= filter)
    POST   /api/redemptions/{id}/cancel      Requester backs out while pending
    POST   /api/redemptions/{id}/deliver     Recipient confirms delivery
    POST   /api/admin/redemptions/{id}/approve|reject|processing|ship|ready|return

  Quota & adjustments (admin):
    GET    /api/admin/quota/settings/{role}
    PUT    /api/admin/quota/settings/{role}
    POST   /api/admin/quota/distribute
    GET    /api/admin/quota/distributions
    POST   /api/admin/adjustments

  News:
    GET    /api/news                         Published posts
    GET    /api/admin/news                   All posts
    POST   /api/admin/news                   Create
    PUT    /api/admin/news/{id}              Update
    POST   /api/admin/news/{id}/publish      Publish / unpublish (?published=false)
    DELETE /api/admin/news/{id}

  Reports:
    GET    /api/reports/summary
    GET    /api/reports/leaderboard/receivers
    GET    /api/reports/leaderboard/givers
    GET    /api/admin/reports/transactions.csv

ERROR HANDLING:
  Domain errors map to HTTP status via errorStatus:
  - 400: Validation, insufficient quota/points
  - 404: Unknown user/reward/request/transaction
  - 409: Out of stock, inactive reward, illegal state transition, history pin
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Session middleware
  - server.go: Router setup
*/
package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/spark/kudos-engine/ledger"
	"github.com/spark/kudos-engine/reports"
	"github.com/spark/kudos-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Engine   *ledger.Engine
	Workflow *ledger.Workflow
	Reporter *reports.Reporter
	Auth     *Authenticator
}

// NewHandler wires the domain services around one store.
func NewHandler(store *sqlite.Store, auth *Authenticator) *Handler {
	return &Handler{
		Store:    store,
		Engine:   ledger.NewEngine(store),
		Workflow: ledger.NewWorkflow(store),
		Reporter: reports.NewReporter(store),
		Auth:     auth,
	}
}

// =============================================================================
// AUTH
// =============================================================================

// Login resolves an employee code and issues a session token.
// POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.Store.GetUserByCode(r.Context(), strings.TrimSpace(req.Code))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to look up employee", err)
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Unknown employee code", nil)
		return
	}

	token, err := h.Auth.IssueToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token", err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: toUserDTO(user)})
}

// Me returns the current session user.
// GET /api/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toUserDTO(currentUser(r.Context())))
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all employees.
// GET /api/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i := range users {
		dtos[i] = toUserDTO(&users[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetUser returns a single employee.
// GET /api/users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.Store.GetUser(r.Context(), ledger.UserID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get user", err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// CreateUser creates a new employee with the role's default quota.
// POST /api/admin/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req SaveUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	existing, err := h.Store.GetUserByCode(ctx, req.Code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check employee code", err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "Employee code already in use", nil)
		return
	}

	role := req.Role
	if role == "" {
		role = ledger.RoleEmployee
	}
	quota := ledger.Points(0)
	if setting, err := h.Store.GetQuotaSetting(ctx, role); err == nil && setting != nil {
		quota = setting.DefaultQuota
	}

	user := ledger.User{
		ID:             ledger.UserID(uuid.NewString()),
		Code:           req.Code,
		Name:           req.Name,
		Email:          req.Email,
		BusinessUnit:   req.BusinessUnit,
		Department:     req.Department,
		Branch:         req.Branch,
		Role:           role,
		QuotaRemaining: quota,
		PointsBalance:  ledger.Points(0),
	}
	if err := h.Store.SaveUser(ctx, user); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(&user))
}

// UpdateUser updates an employee's profile fields. Quota and balance are not
// editable here; those move only through the engine.
// PUT /api/admin/users/{id}
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req SaveUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	user, err := h.Store.GetUser(ctx, ledger.UserID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get user", err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User not found", nil)
		return
	}

	user.Code = req.Code
	user.Name = req.Name
	user.Email = req.Email
	user.BusinessUnit = req.BusinessUnit
	user.Department = req.Department
	user.Branch = req.Branch
	if req.Role != "" {
		user.Role = req.Role
	}
	if err := h.Store.SaveUser(ctx, *user); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// DeleteUser removes an employee. Refused while ledger history references
// them.
// DELETE /api/admin/users/{id}
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	err := h.Store.DeleteUser(r.Context(), ledger.UserID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err, "Failed to delete user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportUsers bulk-creates employees from a CSV body with a header row:
// code,name,email,business_unit,department,branch,role. Rows with an already
// used code are skipped, malformed rows are reported; valid rows always land.
// POST /api/admin/users/import
func (h *Handler) ImportUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reader := csv.NewReader(r.Body)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read CSV header", err)
		return
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["code"]; !ok {
		writeError(w, http.StatusBadRequest, "CSV header must include a code column", nil)
		return
	}
	if _, ok := col["name"]; !ok {
		writeError(w, http.StatusBadRequest, "CSV header must include a name column", nil)
		return
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var result ImportResult
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			result.Errors = append(result.Errors, "line "+strconv.Itoa(line)+": "+err.Error())
			result.Skipped++
			continue
		}

		code, name := field(row, "code"), field(row, "name")
		if code == "" || name == "" {
			result.Errors = append(result.Errors, "line "+strconv.Itoa(line)+": code and name are required")
			result.Skipped++
			continue
		}

		existing, err := h.Store.GetUserByCode(ctx, code)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to check employee code", err)
			return
		}
		if existing != nil {
			result.Skipped++
			continue
		}

		role := field(row, "role")
		if role != ledger.RoleAdmin {
			role = ledger.RoleEmployee
		}
		quota := ledger.Points(0)
		if setting, err := h.Store.GetQuotaSetting(ctx, role); err == nil && setting != nil {
			quota = setting.DefaultQuota
		}

		user := ledger.User{
			ID:             ledger.UserID(uuid.NewString()),
			Code:           code,
			Name:           name,
			Email:          field(row, "email"),
			BusinessUnit:   field(row, "business_unit"),
			Department:     field(row, "department"),
			Branch:         field(row, "branch"),
			Role:           role,
			QuotaRemaining: quota,
			PointsBalance:  ledger.Points(0),
		}
		if err := h.Store.SaveUser(ctx, user); err != nil {
			result.Errors = append(result.Errors, "line "+strconv.Itoa(line)+": "+err.Error())
			result.Skipped++
			continue
		}
		result.Imported++
	}

	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// GIVE HANDLERS
// =============================================================================

// Give moves points from the session user's quota to a recipient.
// POST /api/gives
func (h *Handler) Give(w http.ResponseWriter, r *http.Request) {
	var req GiveRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	tx, err := h.Engine.Give(r.Context(), ledger.GiveInput{
		FromUserID: currentUser(r.Context()).ID,
		ToUserID:   ledger.UserID(req.ToUserID),
		Amount:     ledger.Points(req.Amount),
		CategoryID: req.CategoryID,
		Message:    req.Message,
		Source:     ledger.Source(req.Source),
	})
	if err != nil {
		writeDomainError(w, err, "Failed to give points")
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// GroupGive splits one give across multiple recipients, all-or-nothing.
// POST /api/gives/group
func (h *Handler) GroupGive(w http.ResponseWriter, r *http.Request) {
	var req GroupGiveRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	allocs := make([]ledger.Allocation, len(req.Allocations))
	for i, a := range req.Allocations {
		allocs[i] = ledger.Allocation{
			ToUserID: ledger.UserID(a.ToUserID),
			Amount:   ledger.Points(a.Amount),
		}
	}

	tx, err := h.Engine.GroupGive(r.Context(), ledger.GroupGiveInput{
		FromUserID:  currentUser(r.Context()).ID,
		Allocations: allocs,
		CategoryID:  req.CategoryID,
		Message:     req.Message,
	})
	if err != nil {
		writeDomainError(w, err, "Failed to give points")
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns the latest ledger entries.
// GET /api/transactions?limit=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	txs, err := h.Store.ListTransactions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// ListUserTransactions returns the ledger entries touching one employee.
// GET /api/users/{id}/transactions
func (h *Handler) ListUserTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Store.ListTransactionsByUser(r.Context(), ledger.UserID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i := range txs {
		dtos[i] = toTransactionDTO(&txs[i])
	}
	return dtos
}

// =============================================================================
// REWARD HANDLERS
// =============================================================================

// ListRewards returns the catalog.
// GET /api/rewards
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	items, err := h.Store.ListRewards(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rewards", err)
		return
	}

	dtos := make([]RewardDTO, len(items))
	for i := range items {
		dtos[i] = toRewardDTO(&items[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateReward adds a catalog entry.
// POST /api/admin/rewards
func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	var req SaveRewardRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	status := ledger.RewardStatus(req.Status)
	if status == "" {
		status = ledger.RewardActive
	}
	item := ledger.RewardItem{
		ID:         ledger.RewardID(uuid.NewString()),
		Name:       req.Name,
		Category:   req.Category,
		PointsCost: ledger.Points(req.PointsCost),
		Stock:      req.Stock,
		IsPhysical: req.IsPhysical,
		Status:     status,
	}
	if err := h.Store.SaveReward(r.Context(), item); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create reward", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRewardDTO(&item))
}

// UpdateReward edits a catalog entry.
// PUT /api/admin/rewards/{id}
func (h *Handler) UpdateReward(w http.ResponseWriter, r *http.Request) {
	var req SaveRewardRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	item, err := h.Store.GetReward(ctx, ledger.RewardID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get reward", err)
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "Reward not found", nil)
		return
	}

	item.Name = req.Name
	item.Category = req.Category
	item.PointsCost = ledger.Points(req.PointsCost)
	item.Stock = req.Stock
	item.IsPhysical = req.IsPhysical
	if req.Status != "" {
		item.Status = ledger.RewardStatus(req.Status)
	}
	if err := h.Store.SaveReward(ctx, *item); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update reward", err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(item))
}

// DeleteReward removes a catalog entry. Refused while redemptions reference it.
// DELETE /api/admin/rewards/{id}
func (h *Handler) DeleteReward(w http.ResponseWriter, r *http.Request) {
	err := h.Store.DeleteReward(r.Context(), ledger.RewardID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err, "Failed to delete reward")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REDEMPTION HANDLERS
// =============================================================================

// Redeem opens a redemption for the session user.
// POST /api/redemptions
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	redemption, err := h.Engine.Redeem(r.Context(), ledger.RedeemInput{
		UserID:       currentUser(r.Context()).ID,
		RewardID:     ledger.RewardID(req.RewardID),
		ShippingType: ledger.ShippingType(req.ShippingType),
		Address:      req.Address,
		Phone:        req.Phone,
	})
	if err != nil {
		writeDomainError(w, err, "Failed to redeem reward")
		return
	}
	writeJSON(w, http.StatusCreated, toRedemptionDTO(redemption))
}

// ListRedemptions lists redemption requests, optionally filtered by status.
// GET /api/redemptions?status=
func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Store.ListRequests(r.Context(), ledger.RequestStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list redemptions", err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTOs(reqs))
}

// ListUserRedemptions lists one employee's redemption requests.
// GET /api/users/{id}/redemptions
func (h *Handler) ListUserRedemptions(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Store.ListRequestsByUser(r.Context(), ledger.UserID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list redemptions", err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTOs(reqs))
}

func toRedemptionDTOs(reqs []ledger.RedemptionRequest) []RedemptionDTO {
	dtos := make([]RedemptionDTO, len(reqs))
	for i := range reqs {
		dtos[i] = toRedemptionDTO(&reqs[i])
	}
	return dtos
}

// ApproveRedemption approves a pending request.
// POST /api/admin/redemptions/{id}/approve
func (h *Handler) ApproveRedemption(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	redemption, err := h.Workflow.Approve(r.Context(),
		ledger.RequestID(chi.URLParam(r, "id")), currentUser(r.Context()).ID, req.DigitalCode)
	if err != nil {
		writeDomainError(w, err, "Failed to approve redemption")
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(redemption))
}

// RejectRedemption rejects a pending request and refunds it.
// POST /api/admin/redemptions/{id}/reject
func (h *Handler) RejectRedemption(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	redemption, err := h.Workflow.Reject(r.Context(),
		ledger.RequestID(chi.URLParam(r, "id")), currentUser(r.Context()).ID, req.Reason)
	if err != nil {
		writeDomainError(w, err, "Failed to reject redemption")
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(redemption))
}

// CancelRedemption lets the requester back out while pending.
// POST /api/redemptions/{id}/cancel
func (h *Handler) CancelRedemption(w http.ResponseWriter, r *http.Request) {
	redemption, err := h.Workflow.Cancel(r.Context(),
		ledger.RequestID(chi.URLParam(r, "id")), currentUser(r.Context()).ID)
	if err != nil {
		writeDomainError(w, err, "Failed to cancel redemption")
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(redemption))
}

// MarkProcessing advances fulfillment to PROCESSING.
// POST /api/admin/redemptions/{id}/processing
func (h *Handler) MarkProcessing(w http.ResponseWriter, r *http.Request) {
	redemption, err := h.Workflow.MarkProcessing(r.Context(), ledger.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err, "Failed to update shipping status")
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(redemption))
}

// MarkShipped records carrier/tracking and advances to SHIPPED.
// POST /api/admin/redemptions/{id}/ship
func (h *Handler) MarkShipped(w http.ResponseWriter, r *http.Request) {
	var req ShipRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	redemption, err := h.Workflow.MarkShipped(r.Context(),
		ledger.RequestID(chi.URLParam(r, "id")), req.Carrier, req.TrackingNumber)
	if err != nil {
		writeDomainError(w, err, "Failed to update shipping status")
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(redemption))
}

// MarkReadyForPickup marks a pickup item ready at the branch.
// POST /api/admin/redemptions/{id}/ready
func (h *Handler) MarkReadyForPickup(w http.ResponseWriter, r *http.Request) {
	redemption, err := h.Workflow.MarkReadyForPickup(r.Context(), ledger.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err, "Failed to update shipping status")
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(redemption))
}

// ConfirmDelivery confirms the item arrived. Recipient or admin.
// POST /api/redemptions/{id}/deliver
func (h *Handler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	redemption, err := h.Workflow.ConfirmDelivery(r.Context(),
		ledger.RequestID(chi.URLParam(r, "id")), currentUser(r.Context()).ID)
	if err != nil {
		writeDomainError(w, err, "Failed to confirm delivery")
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(redemption))
}

// MarkReturned records a return and refunds the redemption.
// POST /api/admin/redemptions/{id}/return
func (h *Handler) MarkReturned(w http.ResponseWriter, r *http.Request) {
	var req ReturnRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	redemption, err := h.Workflow.MarkReturned(r.Context(),
		ledger.RequestID(chi.URLParam(r, "id")), req.Reason)
	if err != nil {
		writeDomainError(w, err, "Failed to mark returned")
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(redemption))
}

// =============================================================================
// QUOTA & ADJUSTMENT HANDLERS
// =============================================================================

// GetQuotaSetting returns the default quota for a role.
// GET /api/admin/quota/settings/{role}
func (h *Handler) GetQuotaSetting(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	setting, err := h.Store.GetQuotaSetting(r.Context(), role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get quota setting", err)
		return
	}
	if setting == nil {
		writeError(w, http.StatusNotFound, "No quota setting for role", nil)
		return
	}
	writeJSON(w, http.StatusOK, QuotaSettingDTO{
		Role:         setting.Role,
		DefaultQuota: setting.DefaultQuota.String(),
		UpdatedAt:    formatTime(setting.UpdatedAt),
	})
}

// SaveQuotaSetting sets the default quota a new employee of the role starts
// with. Does not touch existing users; use distribute for that.
// PUT /api/admin/quota/settings/{role}
func (h *Handler) SaveQuotaSetting(w http.ResponseWriter, r *http.Request) {
	var req SaveQuotaSettingRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	role := chi.URLParam(r, "role")
	if role != ledger.RoleEmployee && role != ledger.RoleAdmin {
		writeError(w, http.StatusBadRequest, "Unknown role", nil)
		return
	}

	setting := ledger.QuotaSetting{Role: role, DefaultQuota: ledger.Points(req.DefaultQuota)}
	if err := h.Store.SaveQuotaSetting(r.Context(), setting); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save quota setting", err)
		return
	}
	writeJSON(w, http.StatusOK, QuotaSettingDTO{
		Role:         setting.Role,
		DefaultQuota: setting.DefaultQuota.String(),
	})
}

// DistributeQuota bulk-adjusts every user of a role.
// POST /api/admin/quota/distribute
func (h *Handler) DistributeQuota(w http.ResponseWriter, r *http.Request) {
	var req DistributeQuotaRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	dist, err := h.Engine.AdjustQuota(r.Context(), req.Role,
		ledger.Points(req.Amount), currentUser(r.Context()).ID)
	if err != nil {
		writeDomainError(w, err, "Failed to distribute quota")
		return
	}
	writeJSON(w, http.StatusOK, toQuotaDistributionDTO(dist))
}

// ListQuotaDistributions returns the distribution log, newest first.
// GET /api/admin/quota/distributions
func (h *Handler) ListQuotaDistributions(w http.ResponseWriter, r *http.Request) {
	dists, err := h.Store.ListQuotaDistributions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list distributions", err)
		return
	}

	dtos := make([]QuotaDistributionDTO, len(dists))
	for i := range dists {
		dtos[i] = toQuotaDistributionDTO(&dists[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func toQuotaDistributionDTO(d *ledger.QuotaDistribution) QuotaDistributionDTO {
	return QuotaDistributionDTO{
		ID:            d.ID,
		Role:          d.Role,
		Amount:        d.Amount.String(),
		AffectedUsers: d.AffectedUsers,
		AdminID:       string(d.AdminID),
		CreatedAt:     formatTime(d.CreatedAt),
	}
}

// AdjustBalance applies a manual signed correction to one user's balance.
// POST /api/admin/adjustments
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req AdjustBalanceRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	tx, err := h.Engine.AdjustBalance(r.Context(), ledger.UserID(req.UserID),
		ledger.Points(req.Delta), req.Reason, currentUser(r.Context()).ID)
	if err != nil {
		writeDomainError(w, err, "Failed to adjust balance")
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// =============================================================================
// NEWS HANDLERS
// =============================================================================

// ListNews returns published posts.
// GET /api/news
func (h *Handler) ListNews(w http.ResponseWriter, r *http.Request) {
	h.listNews(w, r, true)
}

// ListAllNews returns every post including drafts.
// GET /api/admin/news
func (h *Handler) ListAllNews(w http.ResponseWriter, r *http.Request) {
	h.listNews(w, r, false)
}

func (h *Handler) listNews(w http.ResponseWriter, r *http.Request, publishedOnly bool) {
	posts, err := h.Store.ListNews(r.Context(), publishedOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list news", err)
		return
	}

	dtos := make([]NewsDTO, len(posts))
	for i := range posts {
		dtos[i] = toNewsDTO(&posts[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateNews creates a draft post.
// POST /api/admin/news
func (h *Handler) CreateNews(w http.ResponseWriter, r *http.Request) {
	var req SaveNewsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	post := sqlite.News{
		ID:        uuid.NewString(),
		Title:     req.Title,
		Body:      req.Body,
		ImageURL:  req.ImageURL,
		CreatedBy: string(currentUser(r.Context()).ID),
	}
	if err := h.Store.SaveNews(r.Context(), post); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create news", err)
		return
	}
	writeJSON(w, http.StatusCreated, toNewsDTO(&post))
}

// UpdateNews edits a post.
// PUT /api/admin/news/{id}
func (h *Handler) UpdateNews(w http.ResponseWriter, r *http.Request) {
	var req SaveNewsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	post, err := h.Store.GetNews(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get news", err)
		return
	}
	if post == nil {
		writeError(w, http.StatusNotFound, "News post not found", nil)
		return
	}

	post.Title = req.Title
	post.Body = req.Body
	post.ImageURL = req.ImageURL
	if err := h.Store.SaveNews(ctx, *post); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update news", err)
		return
	}
	writeJSON(w, http.StatusOK, toNewsDTO(post))
}

// PublishNews publishes or unpublishes a post (?published=false to retract).
// POST /api/admin/news/{id}/publish
func (h *Handler) PublishNews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	post, err := h.Store.GetNews(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get news", err)
		return
	}
	if post == nil {
		writeError(w, http.StatusNotFound, "News post not found", nil)
		return
	}

	publish := r.URL.Query().Get("published") != "false"
	post.Published = publish
	if publish {
		now := time.Now().UTC()
		post.PublishedAt = &now
	} else {
		post.PublishedAt = nil
	}
	if err := h.Store.SaveNews(ctx, *post); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to publish news", err)
		return
	}
	writeJSON(w, http.StatusOK, toNewsDTO(post))
}

// DeleteNews removes a post.
// DELETE /api/admin/news/{id}
func (h *Handler) DeleteNews(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteNews(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete news", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// ReportSummary returns the dashboard KPIs.
// GET /api/reports/summary
func (h *Handler) ReportSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Reporter.Summarize(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// TopReceivers returns the receiver leaderboard.
// GET /api/reports/leaderboard/receivers?limit=
func (h *Handler) TopReceivers(w http.ResponseWriter, r *http.Request) {
	h.leaderboard(w, r, h.Reporter.TopReceivers)
}

// TopGivers returns the giver leaderboard.
// GET /api/reports/leaderboard/givers?limit=
func (h *Handler) TopGivers(w http.ResponseWriter, r *http.Request) {
	h.leaderboard(w, r, h.Reporter.TopGivers)
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, limit int) ([]reports.LeaderboardEntry, error)) {

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	entries, err := fn(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ExportTransactionsCSV streams the transaction history as CSV.
// GET /api/admin/reports/transactions.csv
func (h *Handler) ExportTransactionsCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="transactions.csv"`)
	if err := h.Reporter.ExportTransactionsCSV(r.Context(), w); err != nil {
		// Headers may already be out; nothing better to do than log-and-drop.
		writeError(w, http.StatusInternalServerError, "Failed to export transactions", err)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

var validate = validator.New()

// decodeAndValidate parses the JSON body into dst and runs struct validation.
// Writes a 400 and returns false on any failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps an engine/workflow error to its HTTP status.
func writeDomainError(w http.ResponseWriter, err error, fallback string) {
	writeError(w, errorStatus(err), fallback, err)
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUserNotFound),
		errors.Is(err, ledger.ErrRewardNotFound),
		errors.Is(err, ledger.ErrRequestNotFound),
		errors.Is(err, ledger.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, ledger.ErrInsufficientQuota),
		errors.Is(err, ledger.ErrInsufficientPoints):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrOutOfStock),
		errors.Is(err, ledger.ErrRewardInactive),
		errors.Is(err, ledger.ErrInvalidStateTransition),
		errors.Is(err, ledger.ErrHasHistory):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
