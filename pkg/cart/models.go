package cart

import "time"

// Item is a pending subscription intent. Items are created when a plan is
// added to a cart and consumed (Recorded=true) when checkout commits the
// resulting order; a recorded item never feeds invoicing again.
type Item struct {
	ID     int64 `json:"id"`
	UserID int64 `json:"user_id"`
	PlanID int64 `json:"plan_id"`
	// OptionIndex is the 1-based index of a previously offered prepay
	// option; 0 means the buyer has not chosen yet.
	OptionIndex int    `json:"option_index"`
	UseChargeID *int64 `json:"use_charge_id,omitempty"`
	Quantity    int    `json:"quantity"`

	// Group buy: the eventual subscriber when it differs from the
	// purchaser. SyncOn is a slug or email naming an existing organization;
	// Email/FullName describe a subscriber to create on the fly.
	SyncOn   string `json:"sync_on,omitempty"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`

	CouponID *int64 `json:"coupon_id,omitempty"`
	Recorded bool   `json:"recorded"`

	CreatedAt time.Time `json:"created_at"`
}

// Service defines the interface for cart operations
type Service interface {
	AddItem(item *Item) error
	GetItem(id int64) (*Item, error)
	// ListPending returns the user's unrecorded items, oldest first.
	ListPending(userID int64) ([]*Item, error)
	SelectOption(itemID int64, optionIndex int) error
	RemoveItem(itemID int64) error
}
