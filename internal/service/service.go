// Package service orchestrates the fulfillment and stock domains: it loads
// state, applies domain operations, persists the result together with its
// audit entry, and enforces the caller's capabilities.
package service

import "errors"

// Capability names a permission an actor may hold. The service layer checks
// capabilities through an injected Authorizer and never inspects roles.
type Capability string

const (
	CapabilityValidate    Capability = "fulfillment:validate"
	CapabilityPrepare     Capability = "fulfillment:prepare"
	CapabilityDispense    Capability = "fulfillment:dispense"
	CapabilityCancel      Capability = "fulfillment:cancel"
	CapabilityViewHistory Capability = "fulfillment:history"
	CapabilityExport      Capability = "fulfillment:export"
	CapabilityManageStock Capability = "stock:manage"
)

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID         string
	Name       string
	PharmacyID string
}

// Authorizer decides whether an actor holds a capability.
type Authorizer func(actor Actor, capability Capability) bool

// AllowAll grants every capability. Used in tests and single-tenant setups.
func AllowAll(Actor, Capability) bool { return true }

// ErrForbidden is returned when the actor lacks the required capability.
var ErrForbidden = errors.New("actor lacks required capability")
