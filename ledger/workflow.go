/*
workflow.go - Redemption request lifecycle

PURPOSE:
  Tracks a redemption request from creation (PENDING, points already deducted,
  stock already decremented) through approval or rejection and, for physical
  items, through fulfillment to delivery or return.

REQUEST FLOW:

  PENDING ──▶ APPROVED (digital: code attached, terminal)
     │             │
     │             ▼  (physical)
     │        shipping: PENDING ──▶ PROCESSING ──▶ SHIPPED ──▶ DELIVERED
     │                     │                          │            │
     │                     └──────────▶ SHIPPED ◀────┘            │
     │                                    └──▶ RETURNED ◀─────────┘
     ├──▶ REJECTED  (points refunded, stock restored)
     └──▶ CANCELLED (requester backs out while pending; same refund)

  Shipping statuses form a CLOSED transition table. Any transition not in the
  table fails with ErrInvalidStateTransition and mutates nothing - states are
  never silently coerced.

REFUNDS:
  Reject, cancel, and return all reverse the original redeem through the one
  reverseRedemption primitive in engine.go. Approve changes no balances:
  the deduction already happened at redemption time.

SEE ALSO:
  - engine.go: Redeem (creates requests) and reverseRedemption
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
	RequestCancelled RequestStatus = "cancelled"
)

type ShippingType string

const (
	ShippingPickup   ShippingType = "pickup"
	ShippingDelivery ShippingType = "delivery"
	ShippingDigital  ShippingType = "digital"
)

type ShippingStatus string

const (
	ShippingNotRequired ShippingStatus = "not_required" // digital items
	ShippingNotStarted  ShippingStatus = "not_started"  // physical, awaiting approval
	ShippingPending     ShippingStatus = "pending"      // approved, awaiting fulfillment
	ShippingProcessing  ShippingStatus = "processing"
	ShippingShipped     ShippingStatus = "shipped" // for pickup items: "ready"
	ShippingDelivered   ShippingStatus = "delivered"
	ShippingReturned    ShippingStatus = "returned"
)

// RedemptionRequest is one catalog redemption making its way through
// approval and fulfillment. Points and stock were taken at creation time;
// terminal rollback states (rejected, cancelled, returned) give them back.
type RedemptionRequest struct {
	ID            RequestID
	UserID        UserID
	RewardID      RewardID
	TransactionID TransactionID // the redeem ledger entry this request rides on
	PointsUsed    decimal.Decimal
	Status        RequestStatus

	ShippingType   ShippingType
	ShippingStatus ShippingStatus
	Address        string
	Phone          string

	Carrier        string
	TrackingNumber string
	DigitalCode    string
	Note           string // rejection or return reason

	ApprovedBy  UserID
	ApprovedAt  *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	ReturnedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// shippingTransitions is the closed set of legal shipping-status moves.
// Everything else is rejected.
var shippingTransitions = map[ShippingStatus][]ShippingStatus{
	ShippingNotStarted: {ShippingPending},
	ShippingPending:    {ShippingProcessing, ShippingShipped},
	ShippingProcessing: {ShippingShipped},
	ShippingShipped:    {ShippingDelivered, ShippingReturned},
	ShippingDelivered:  {ShippingReturned},
}

func canShip(from, to ShippingStatus) bool {
	for _, next := range shippingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// =============================================================================
// WORKFLOW SERVICE
// =============================================================================

// Workflow drives redemption requests through their lifecycle. Every
// transition validates the current state, then commits its effects in one
// storage transaction.
type Workflow struct {
	Store TxStore
}

func NewWorkflow(store TxStore) *Workflow {
	return &Workflow{Store: store}
}

// Approve moves a PENDING request to APPROVED. Digital items require a code
// and are terminal once it is attached; physical items enter the fulfillment
// pipeline with shipping status PENDING. No balances change - the deduction
// happened at redemption time.
func (w *Workflow) Approve(ctx context.Context, id RequestID, adminID UserID, digitalCode string) (*RedemptionRequest, error) {
	var req *RedemptionRequest
	err := w.Store.WithTx(ctx, func(st Store) error {
		var err error
		req, err = mustGetRequest(ctx, st, id)
		if err != nil {
			return err
		}
		if req.Status != RequestPending {
			return &StateTransitionError{RequestID: id, From: string(req.Status), To: string(RequestApproved)}
		}

		now := time.Now().UTC()
		if req.ShippingType == ShippingDigital {
			if digitalCode == "" {
				return &ValidationError{Field: "digital_code", Message: "required to approve a digital redemption"}
			}
			req.DigitalCode = digitalCode
			req.ShippingStatus = ShippingNotRequired
		} else {
			req.ShippingStatus = ShippingPending
		}

		req.Status = RequestApproved
		req.ApprovedBy = adminID
		req.ApprovedAt = &now
		req.UpdatedAt = now
		return st.SaveRequest(ctx, *req)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Reject moves a PENDING request to REJECTED, refunding the points and
// restoring the stock unit removed at redemption time. Refund and status
// change commit together.
func (w *Workflow) Reject(ctx context.Context, id RequestID, adminID UserID, reason string) (*RedemptionRequest, error) {
	var req *RedemptionRequest
	err := w.Store.WithTx(ctx, func(st Store) error {
		var err error
		req, err = mustGetRequest(ctx, st, id)
		if err != nil {
			return err
		}
		if req.Status != RequestPending {
			return &StateTransitionError{RequestID: id, From: string(req.Status), To: string(RequestRejected)}
		}

		if err := reverseRedemption(ctx, st, req, "redemption rejected: "+reason); err != nil {
			return err
		}

		now := time.Now().UTC()
		req.Status = RequestRejected
		req.Note = reason
		req.UpdatedAt = now
		return st.SaveRequest(ctx, *req)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Cancel lets the requester back out of a still-PENDING request. Refund
// semantics are identical to rejection.
func (w *Workflow) Cancel(ctx context.Context, id RequestID, actorID UserID) (*RedemptionRequest, error) {
	var req *RedemptionRequest
	err := w.Store.WithTx(ctx, func(st Store) error {
		var err error
		req, err = mustGetRequest(ctx, st, id)
		if err != nil {
			return err
		}
		if req.Status != RequestPending {
			return &StateTransitionError{RequestID: id, From: string(req.Status), To: string(RequestCancelled)}
		}
		if req.UserID != actorID {
			return &ValidationError{Field: "actor", Message: "only the requester can cancel"}
		}

		if err := reverseRedemption(ctx, st, req, "redemption cancelled by requester"); err != nil {
			return err
		}

		req.Status = RequestCancelled
		req.UpdatedAt = time.Now().UTC()
		return st.SaveRequest(ctx, *req)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// MarkProcessing moves an approved physical request's fulfillment from
// PENDING to PROCESSING.
func (w *Workflow) MarkProcessing(ctx context.Context, id RequestID) (*RedemptionRequest, error) {
	return w.advanceShipping(ctx, id, ShippingProcessing, func(_ Store, _ *RedemptionRequest) error {
		return nil
	})
}

// MarkShipped records carrier and tracking info on an approved delivery
// request and moves it to SHIPPED. Legal from PENDING or PROCESSING.
func (w *Workflow) MarkShipped(ctx context.Context, id RequestID, carrier, trackingNumber string) (*RedemptionRequest, error) {
	return w.advanceShipping(ctx, id, ShippingShipped, func(_ Store, req *RedemptionRequest) error {
		if req.ShippingType != ShippingDelivery {
			return &ValidationError{Field: "shipping_type", Message: "tracking applies to delivery requests; use ready-for-pickup"}
		}
		if trackingNumber == "" {
			return &ValidationError{Field: "tracking_number", Message: "required when marking shipped"}
		}
		now := time.Now().UTC()
		req.Carrier = carrier
		req.TrackingNumber = trackingNumber
		req.ShippedAt = &now
		return nil
	})
}

// MarkReadyForPickup is the pickup-type equivalent of MarkShipped: the item
// is ready at the branch. No tracking info involved.
func (w *Workflow) MarkReadyForPickup(ctx context.Context, id RequestID) (*RedemptionRequest, error) {
	return w.advanceShipping(ctx, id, ShippingShipped, func(_ Store, req *RedemptionRequest) error {
		if req.ShippingType != ShippingPickup {
			return &ValidationError{Field: "shipping_type", Message: "ready-for-pickup applies to pickup requests"}
		}
		now := time.Now().UTC()
		req.ShippedAt = &now
		return nil
	})
}

// ConfirmDelivery moves a SHIPPED request to DELIVERED. The actor may be the
// recipient (self-service confirmation) or an admin.
func (w *Workflow) ConfirmDelivery(ctx context.Context, id RequestID, actorID UserID) (*RedemptionRequest, error) {
	return w.advanceShipping(ctx, id, ShippingDelivered, func(st Store, req *RedemptionRequest) error {
		if req.UserID != actorID {
			// Anyone else must be an admin.
			actor, err := mustGetUser(ctx, st, actorID)
			if err != nil {
				return err
			}
			if !actor.IsAdmin() {
				return &ValidationError{Field: "actor", Message: "only the recipient or an admin can confirm delivery"}
			}
		}
		now := time.Now().UTC()
		req.DeliveredAt = &now
		return nil
	})
}

// MarkReturned handles a physical item coming back after it shipped or was
// delivered. The points and stock taken at redemption time are restored via
// the same reversal primitive rejection uses, and the reason is mandatory.
func (w *Workflow) MarkReturned(ctx context.Context, id RequestID, reason string) (*RedemptionRequest, error) {
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "required when marking returned"}
	}

	var req *RedemptionRequest
	err := w.Store.WithTx(ctx, func(st Store) error {
		var err error
		req, err = mustGetRequest(ctx, st, id)
		if err != nil {
			return err
		}
		if req.Status != RequestApproved || !canShip(req.ShippingStatus, ShippingReturned) {
			return &StateTransitionError{RequestID: id, From: string(req.ShippingStatus), To: string(ShippingReturned)}
		}

		if err := reverseRedemption(ctx, st, req, "redemption returned: "+reason); err != nil {
			return err
		}

		now := time.Now().UTC()
		req.ShippingStatus = ShippingReturned
		req.Note = reason
		req.ReturnedAt = &now
		req.UpdatedAt = now
		return st.SaveRequest(ctx, *req)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// advanceShipping is the shared skeleton for fulfillment-only transitions:
// load, check the transition table against an APPROVED physical request,
// apply extra per-transition validation/mutation, save.
func (w *Workflow) advanceShipping(ctx context.Context, id RequestID, to ShippingStatus, apply func(Store, *RedemptionRequest) error) (*RedemptionRequest, error) {
	var req *RedemptionRequest
	err := w.Store.WithTx(ctx, func(st Store) error {
		var err error
		req, err = mustGetRequest(ctx, st, id)
		if err != nil {
			return err
		}
		if req.Status != RequestApproved || req.ShippingType == ShippingDigital || !canShip(req.ShippingStatus, to) {
			return &StateTransitionError{RequestID: id, From: string(req.ShippingStatus), To: string(to)}
		}
		if err := apply(st, req); err != nil {
			return err
		}
		req.ShippingStatus = to
		req.UpdatedAt = time.Now().UTC()
		return st.SaveRequest(ctx, *req)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func mustGetRequest(ctx context.Context, st Store, id RequestID) (*RedemptionRequest, error) {
	r, err := st.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	return r, nil
}
