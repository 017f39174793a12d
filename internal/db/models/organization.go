// Package models - organization.go defines the Organization registry record and
// the public view returned to API callers.
package models

import "time"

// NamespacePrefix is prepended to an organization name to form its namespace name.
const NamespacePrefix = "org_"

// NamespaceName derives the namespace name for an organization. It is the only
// way a namespace name is produced; records never carry an independently set one.
func NamespaceName(organizationName string) string {
	return NamespacePrefix + organizationName
}

// Organization is one row of the master registry
type Organization struct {
	ID                string    `db:"id"`
	Name              string    `db:"organization_name"`
	NamespaceName     string    `db:"namespace_name"`
	AdminEmail        string    `db:"admin_email"`
	AdminPasswordHash string    `db:"admin_password_hash"`
	Version           int64     `db:"version"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// OrganizationUpdate holds the mutable fields of an Organization. The
// namespace name is not settable; it is recomputed from Name.
type OrganizationUpdate struct {
	Name              string
	AdminEmail        string
	AdminPasswordHash string
}

// PublicOrganization is the caller-facing view of an Organization. It never
// carries the password hash.
type PublicOrganization struct {
	ID               string    `json:"id"`
	OrganizationName string    `json:"organization_name"`
	NamespaceName    string    `json:"namespace_name"`
	CollectionName   string    `json:"collection_name"`
	AdminEmail       string    `json:"admin_email"`
	CreatedAt        time.Time `json:"created_at"`
}

// Public returns the public view of the record.
func (o *Organization) Public() PublicOrganization {
	return PublicOrganization{
		ID:               o.ID,
		OrganizationName: o.Name,
		NamespaceName:    o.NamespaceName,
		CollectionName:   o.NamespaceName,
		AdminEmail:       o.AdminEmail,
		CreatedAt:        o.CreatedAt,
	}
}
