package domain

import "time"

// Subject is the project (optionally a branch of it) a task operates on.
type Subject struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Branch    string    `json:"branch,omitempty"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Permissions checked at submission and granted by the default access template.
const (
	PermissionProvisioning = "provisioning"
	PermissionScan         = "scan"
	PermissionBrowse       = "browse"
	PermissionAdmin        = "admin"
)

// Grant binds a permission to a principal ("user:<id>" or "group:<name>").
type Grant struct {
	Permission string `json:"permission"`
	Principal  string `json:"principal"`
}

func UserPrincipal(id string) string    { return "user:" + id }
func GroupPrincipal(name string) string { return "group:" + name }
