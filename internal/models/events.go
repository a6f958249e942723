package models

import "github.com/shopspring/decimal"

// BillingEventType identifies a billing lifecycle event from the payment
// provider. Delivery is at-least-once; handlers must tolerate replays.
type BillingEventType string

const (
	EventSubscriptionActivated BillingEventType = "subscription.activated"
	EventSubscriptionRenewed   BillingEventType = "subscription.renewed"
	EventSubscriptionChanged   BillingEventType = "subscription.changed"
	EventCheckoutBonus         BillingEventType = "checkout.bonus"
	EventAddonPurchased        BillingEventType = "checkout.addon"
)

// BillingEvent is the normalized form of a provider webhook after signature
// verification and payload shaping, which happen outside this module.
type BillingEvent struct {
	Id     string
	Type   BillingEventType
	UserId string

	// Subscription events.
	Tier      string
	PeriodKey string

	// Checkout events.
	PromoCodeId string
	Credits     decimal.Decimal
	Note        string
}
