// Package verify classifies the resource a payment proof is authorizing
// against, so the rest of the authorization pipeline dispatches on an
// explicit tag rather than guessing from the shape of the resource ID.
package verify

import (
	"fmt"
)

// ResourceType tags which kind of resource a payment proof is settling.
type ResourceType string

const (
	// ResourceTypeRegular is a single catalog product, the default when a
	// proof carries no resource_type at all (older clients).
	ResourceTypeRegular ResourceType = "regular"
	// ResourceTypeCart is a multi-item cart quote.
	ResourceTypeCart ResourceType = "cart"
	// ResourceTypeRefund is an outbound refund transaction.
	ResourceTypeRefund ResourceType = "refund"
)

// ParseResourceType validates the resource_type tag carried on a payment
// proof. An empty tag is accepted and normalized to ResourceTypeRegular;
// anything else outside the known set is rejected.
func ParseResourceType(raw string) (ResourceType, error) {
	switch ResourceType(raw) {
	case "":
		return ResourceTypeRegular, nil
	case ResourceTypeRegular, ResourceTypeCart, ResourceTypeRefund:
		return ResourceType(raw), nil
	default:
		return "", fmt.Errorf("unknown resource_type %q, expected one of regular, cart, refund", raw)
	}
}
