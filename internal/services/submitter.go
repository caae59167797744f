package services

import "github.com/osvaldoandrade/reportq/pkg/domain"

// DefaultGroup is the group every authenticated submitter belongs to.
const DefaultGroup = "users"

// Submitter is the authenticated identity behind a request.
type Submitter struct {
	ID     string
	Groups []string
}

// Principals lists the user principal followed by the group principals, the default
// group included.
func (s Submitter) Principals() []string {
	if s.ID == "" {
		return nil
	}
	out := []string{domain.UserPrincipal(s.ID), domain.GroupPrincipal(DefaultGroup)}
	for _, g := range s.Groups {
		if g == "" || g == DefaultGroup {
			continue
		}
		out = append(out, domain.GroupPrincipal(g))
	}
	return out
}

// DefaultAccessTemplate is applied to subjects created on first submission: the
// creator administers it and every user may browse it.
func DefaultAccessTemplate(creator Submitter) []domain.Grant {
	var out []domain.Grant
	if creator.ID != "" {
		user := domain.UserPrincipal(creator.ID)
		out = append(out,
			domain.Grant{Permission: domain.PermissionAdmin, Principal: user},
			domain.Grant{Permission: domain.PermissionScan, Principal: user},
			domain.Grant{Permission: domain.PermissionBrowse, Principal: user},
		)
	}
	return append(out, domain.Grant{Permission: domain.PermissionBrowse, Principal: domain.GroupPrincipal(DefaultGroup)})
}
