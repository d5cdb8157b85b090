// Package appstore decodes and verifies App Store Server Notifications V2 and
// the signed transaction payloads they carry.
package appstore

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Notification types the store sends. Anything not listed here is ignored by
// the ingestion pipeline but still recorded in the envelope ledger.
const (
	TypeSubscribed             = "SUBSCRIBED"
	TypeDidRenew               = "DID_RENEW"
	TypeOfferRedeemed          = "OFFER_REDEEMED"
	TypeRefund                 = "REFUND"
	TypeRevoke                 = "REVOKE"
	TypeRefundDeclined         = "REFUND_DECLINED"
	TypeRefundReversed         = "REFUND_REVERSED"
	TypeDidChangeRenewalPref   = "DID_CHANGE_RENEWAL_PREF"
	TypeDidChangeRenewalStatus = "DID_CHANGE_RENEWAL_STATUS"
	TypeDidFailToRenew         = "DID_FAIL_TO_RENEW"
	TypeExpired                = "EXPIRED"
	TypeConsumptionRequest     = "CONSUMPTION_REQUEST"
	TypePriceIncrease          = "PRICE_INCREASE"
	TypeGracePeriodExpired     = "GRACE_PERIOD_EXPIRED"
	TypeRenewalExtended        = "RENEWAL_EXTENDED"
	TypeRenewalExtension       = "RENEWAL_EXTENSION"
	TypeTest                   = "TEST"
)

// Server environments as they appear inside signed payloads.
const (
	EnvironmentProduction = "Production"
	EnvironmentSandbox    = "Sandbox"
)

// OwnershipPurchased marks transactions bought by the account itself, as
// opposed to ones shared through family sharing.
const OwnershipPurchased = "PURCHASED"

// Notification is the decoded outer payload of a V2 server notification.
type Notification struct {
	jwt.RegisteredClaims

	NotificationType string           `json:"notificationType"`
	Subtype          string           `json:"subtype,omitempty"`
	NotificationUUID string           `json:"notificationUUID"`
	Version          string           `json:"version,omitempty"`
	SignedDate       int64            `json:"signedDate"`
	Data             NotificationData `json:"data"`
}

// NotificationData carries the nested signed payloads and app metadata.
type NotificationData struct {
	AppAppleID            int64  `json:"appAppleId,omitempty"`
	BundleID              string `json:"bundleId"`
	BundleVersion         string `json:"bundleVersion,omitempty"`
	Environment           string `json:"environment"`
	SignedTransactionInfo string `json:"signedTransactionInfo,omitempty"`
	SignedRenewalInfo     string `json:"signedRenewalInfo,omitempty"`
	Status                int32  `json:"status,omitempty"`
}

// TransactionInfo is the decoded signedTransactionInfo JWS.
type TransactionInfo struct {
	jwt.RegisteredClaims

	TransactionID          string `json:"transactionId"`
	OriginalTransactionID  string `json:"originalTransactionId"`
	WebOrderLineItemID     string `json:"webOrderLineItemId,omitempty"`
	BundleID               string `json:"bundleId"`
	ProductID              string `json:"productId"`
	SubscriptionGroupID    string `json:"subscriptionGroupIdentifier,omitempty"`
	PurchaseDate           int64  `json:"purchaseDate"`
	OriginalPurchaseDate   int64  `json:"originalPurchaseDate"`
	ExpiresDate            int64  `json:"expiresDate,omitempty"`
	Quantity               int32  `json:"quantity,omitempty"`
	Type                   string `json:"type,omitempty"`
	AppAccountToken        string `json:"appAccountToken,omitempty"`
	InAppOwnershipType     string `json:"inAppOwnershipType"`
	SignedDate             int64  `json:"signedDate"`
	RevocationDate         int64  `json:"revocationDate,omitempty"`
	RevocationReason       *int32 `json:"revocationReason,omitempty"`
	OfferType              *int32 `json:"offerType,omitempty"`
	OfferIdentifier        string `json:"offerIdentifier,omitempty"`
	Environment            string `json:"environment"`
	StorefrontID           string `json:"storefrontId,omitempty"`
	Storefront             string `json:"storefront,omitempty"`
	TransactionReason      string `json:"transactionReason,omitempty"`
	Currency               string `json:"currency,omitempty"`
	Price                  int64  `json:"price,omitempty"`
	IsUpgraded             bool   `json:"isUpgraded,omitempty"`
}

// RenewalInfo is the decoded signedRenewalInfo JWS.
type RenewalInfo struct {
	jwt.RegisteredClaims

	OriginalTransactionID  string `json:"originalTransactionId"`
	AutoRenewProductID     string `json:"autoRenewProductId,omitempty"`
	ProductID              string `json:"productId"`
	AutoRenewStatus        int32  `json:"autoRenewStatus"`
	ExpirationIntent       *int32 `json:"expirationIntent,omitempty"`
	IsInBillingRetryPeriod bool   `json:"isInBillingRetryPeriod,omitempty"`
	GracePeriodExpiresDate int64  `json:"gracePeriodExpiresDate,omitempty"`
	PriceIncreaseStatus    *int32 `json:"priceIncreaseStatus,omitempty"`
	SignedDate             int64  `json:"signedDate"`
	RenewalDate            int64  `json:"renewalDate,omitempty"`
	Environment            string `json:"environment"`
}

// PurchaseTime returns purchaseDate as a UTC time. Millisecond epoch, per the
// store's payload format.
func (t *TransactionInfo) PurchaseTime() time.Time {
	return unixMilli(t.PurchaseDate)
}

// ExpiresTime returns expiresDate as a UTC time, zero when absent.
func (t *TransactionInfo) ExpiresTime() time.Time {
	return unixMilli(t.ExpiresDate)
}

// RevocationTime returns revocationDate as a UTC time, zero when absent.
func (t *TransactionInfo) RevocationTime() time.Time {
	return unixMilli(t.RevocationDate)
}

// Revoked reports whether the store has already revoked this transaction.
func (t *TransactionInfo) Revoked() bool {
	return t.RevocationDate > 0
}

// AutoRenewEnabled reports whether renewal is switched on.
func (r *RenewalInfo) AutoRenewEnabled() bool {
	return r.AutoRenewStatus == 1
}

func unixMilli(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
