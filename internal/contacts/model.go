package contacts

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrContactNotFound indicates the contact has never been seen before.
var ErrContactNotFound = errors.New("contacts: not found")

// ErrCustomerNotFound indicates no customer carries the given identifier.
var ErrCustomerNotFound = errors.New("contacts: customer not found")

// Contact is one external messaging identity (phone number, webchat visitor
// id). A contact may be linked to a customer record and may sit in an
// operator's wallet.
type Contact struct {
	ID              string
	ChannelOrigin   string
	CustomerID      *uuid.UUID
	OwnerOperatorID *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Linked reports whether the contact resolves to a known customer.
func (c *Contact) Linked() bool {
	return c.CustomerID != nil
}

// Owned reports whether an operator holds this contact in their wallet.
func (c *Contact) Owned() bool {
	return c.OwnerOperatorID != nil
}

// Customer is a CRM customer record, addressable by tax id. A customer may
// have an account owner; conversations from that customer's contacts are
// offered to the owner before classification.
type Customer struct {
	ID              uuid.UUID
	Name            string
	TaxID           string
	OwnerOperatorID *uuid.UUID
	CreatedAt       time.Time
}
