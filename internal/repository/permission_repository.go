package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/osvaldoandrade/reportq/pkg/domain"

	"github.com/go-redis/redis/v8"
)

// subjectPermissions are the permissions that can be granted on a single subject.
var subjectPermissions = []string{domain.PermissionAdmin, domain.PermissionBrowse, domain.PermissionScan}

type PermissionRepository interface {
	// HasGlobal reports whether any of principals holds permission globally.
	HasGlobal(ctx context.Context, permission string, principals []string) (bool, error)
	// HasSubject reports whether any of principals holds permission on the subject.
	HasSubject(ctx context.Context, subjectID, permission string, principals []string) (bool, error)
	GrantGlobal(ctx context.Context, permission, principal string) error
	// Grant applies grants to a subject in one transaction.
	Grant(ctx context.Context, subjectID string, grants []domain.Grant) error
	ListGrants(ctx context.Context, subjectID string) ([]domain.Grant, error)
}

type permissionRedisRepo struct {
	rdb *redis.Client
}

func NewPermissionRepository(rdb *redis.Client) PermissionRepository {
	return &permissionRedisRepo{rdb: rdb}
}

func (r *permissionRedisRepo) keyGlobal(permission string) string {
	return fmt.Sprintf("reportq:perm:global:%s", permission)
}

func (r *permissionRedisRepo) keySubject(subjectID, permission string) string {
	return fmt.Sprintf("reportq:perm:subject:%s:%s", subjectID, permission)
}

func (r *permissionRedisRepo) anyMember(ctx context.Context, key string, principals []string) (bool, error) {
	if len(principals) == 0 {
		return false, nil
	}
	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.BoolCmd, 0, len(principals))
	for _, p := range principals {
		cmds = append(cmds, pipe.SIsMember(ctx, key, p))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return false, err
	}
	for _, c := range cmds {
		if c.Val() {
			return true, nil
		}
	}
	return false, nil
}

func (r *permissionRedisRepo) HasGlobal(ctx context.Context, permission string, principals []string) (bool, error) {
	return r.anyMember(ctx, r.keyGlobal(permission), principals)
}

func (r *permissionRedisRepo) HasSubject(ctx context.Context, subjectID, permission string, principals []string) (bool, error) {
	return r.anyMember(ctx, r.keySubject(subjectID, permission), principals)
}

func (r *permissionRedisRepo) GrantGlobal(ctx context.Context, permission, principal string) error {
	return r.rdb.SAdd(ctx, r.keyGlobal(permission), principal).Err()
}

func (r *permissionRedisRepo) Grant(ctx context.Context, subjectID string, grants []domain.Grant) error {
	if len(grants) == 0 {
		return nil
	}
	pipe := r.rdb.TxPipeline()
	for _, g := range grants {
		pipe.SAdd(ctx, r.keySubject(subjectID, g.Permission), g.Principal)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *permissionRedisRepo) ListGrants(ctx context.Context, subjectID string) ([]domain.Grant, error) {
	var out []domain.Grant
	for _, perm := range subjectPermissions {
		members, err := r.rdb.SMembers(ctx, r.keySubject(subjectID, perm)).Result()
		if err != nil && err != redis.Nil {
			return nil, err
		}
		sort.Strings(members)
		for _, m := range members {
			out = append(out, domain.Grant{Permission: perm, Principal: m})
		}
	}
	return out, nil
}
