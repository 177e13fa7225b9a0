package dynamo

// DynamoDB attribute names used in keys and update expressions across all repos.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldTenantID  = "tenant_id"
	fieldUserID    = "user_id"
	fieldEmail     = "email"
	fieldOwnerID   = "owner_id"
	fieldVersion   = "version"
	fieldUpdatedAt = "updated_at"
)
