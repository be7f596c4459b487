package orgs

import "time"

// Organization is a billing party. It can appear on either side of a ledger
// transaction, as subscriber, provider, or both. No default currency is fixed
// per organization; units live on transactions.
type Organization struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	BillingEmail string `json:"billing_email"`
	// PaymentToken is the opaque processor reference stored when a checkout
	// asks to remember the card. Empty means no payment method on file.
	PaymentToken string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// User is a person acting for an organization. Group-buy purchases may
// create users on the fly for not-yet-registered subscribers.
type User struct {
	ID       int64  `json:"id"`
	OrgID    int64  `json:"org_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`

	CreatedAt time.Time `json:"created_at"`
}

// Service defines the interface for organization operations
type Service interface {
	CreateOrganization(org *Organization) error
	GetOrganization(id int64) (*Organization, error)
	// ResolveSubscriber finds an organization by slug or billing email; used
	// by group-buy cart items that name their eventual subscriber.
	ResolveSubscriber(slugOrEmail string) (*Organization, error)
	// CreateSubscriber creates an organization plus a user record for a
	// subscriber that does not exist yet.
	CreateSubscriber(slug, email, fullName string) (*Organization, error)
	SetPaymentToken(orgID int64, token string) error
}
