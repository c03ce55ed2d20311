package storage

// Scoped composes a tenant-qualified storage key so that two tenants can
// never collide on the same cart/refund/nonce/webhook ID without requiring
// every Store method and backend to grow a tenant_id parameter. Payment
// signatures are deliberately NOT run through Scoped: a chain signature is
// globally unique by construction and must stay globally replay-protected
// regardless of which tenant first recorded it.
func Scoped(tenantID, id string) string {
	if tenantID == "" {
		return id
	}
	return tenantID + ":" + id
}
