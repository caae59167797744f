package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/osvaldoandrade/reportq/pkg/domain"
)

func TestSubjectCreateAndFind(t *testing.T) {
	ctx, _, rdb := setupRedis(t)
	repo := NewSubjectRepository(rdb, time.UTC)

	if _, err := repo.FindByKey(ctx, "acme:api", ""); !errors.Is(err, ErrSubjectNotFound) {
		t.Fatalf("expected ErrSubjectNotFound, got %v", err)
	}

	main, err := repo.Create(ctx, &domain.Subject{Key: "acme:api", CreatedBy: "u1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if main.ID == "" || main.Name != "acme:api" || main.CreatedAt.IsZero() {
		t.Fatalf("unexpected subject %+v", main)
	}
	branch, err := repo.Create(ctx, &domain.Subject{Key: "acme:api", Branch: "develop", Name: "API"})
	if err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if branch.ID == main.ID {
		t.Fatal("branches must get their own id")
	}

	found, err := repo.FindByKey(ctx, "acme:api", "develop")
	if err != nil || found.ID != branch.ID {
		t.Fatalf("expected branch subject, got %+v err=%v", found, err)
	}
	got, err := repo.Get(ctx, main.ID)
	if err != nil || got.CreatedBy != "u1" {
		t.Fatalf("unexpected get %+v err=%v", got, err)
	}

	if _, err := repo.Create(ctx, &domain.Subject{Key: "acme:api"}); !errors.Is(err, ErrSubjectExists) {
		t.Fatalf("expected ErrSubjectExists, got %v", err)
	}

	all, err := repo.ListBranches(ctx, "acme:api")
	if err != nil {
		t.Fatalf("list branches: %v", err)
	}
	if len(all) != 2 || all[0].Branch != "" || all[1].Branch != "develop" {
		t.Fatalf("unexpected branches %+v", all)
	}
}

func TestSubjectDelete(t *testing.T) {
	ctx, _, rdb := setupRedis(t)
	repo := NewSubjectRepository(rdb, time.UTC)

	s, err := repo.Create(ctx, &domain.Subject{Key: "acme:api", Branch: "develop"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Delete(ctx, s.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.FindByKey(ctx, "acme:api", "develop"); !errors.Is(err, ErrSubjectNotFound) {
		t.Fatalf("expected key mapping removed, got %v", err)
	}
	if all, _ := repo.ListBranches(ctx, "acme:api"); len(all) != 0 {
		t.Fatalf("expected no branches, got %+v", all)
	}
	if err := repo.Delete(ctx, s.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := repo.Create(ctx, &domain.Subject{Key: "acme:api", Branch: "develop"}); err != nil {
		t.Fatalf("recreate after delete: %v", err)
	}
}

func TestPermissionGrants(t *testing.T) {
	ctx, _, rdb := setupRedis(t)
	repo := NewPermissionRepository(rdb)
	user := domain.UserPrincipal("u1")
	users := domain.GroupPrincipal("users")

	ok, err := repo.HasGlobal(ctx, domain.PermissionProvisioning, []string{user})
	if err != nil || ok {
		t.Fatalf("expected no permission, ok=%v err=%v", ok, err)
	}
	if err := repo.GrantGlobal(ctx, domain.PermissionProvisioning, users); err != nil {
		t.Fatalf("grant global: %v", err)
	}
	if ok, _ := repo.HasGlobal(ctx, domain.PermissionProvisioning, []string{user, users}); !ok {
		t.Fatal("expected permission through group")
	}
	if ok, _ := repo.HasGlobal(ctx, domain.PermissionProvisioning, nil); ok {
		t.Fatal("no principals must never be granted")
	}

	err = repo.Grant(ctx, "s1", []domain.Grant{
		{Permission: domain.PermissionScan, Principal: user},
		{Permission: domain.PermissionBrowse, Principal: users},
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if ok, _ := repo.HasSubject(ctx, "s1", domain.PermissionScan, []string{user}); !ok {
		t.Fatal("expected scan on s1")
	}
	if ok, _ := repo.HasSubject(ctx, "s2", domain.PermissionScan, []string{user}); ok {
		t.Fatal("grants must not leak to other subjects")
	}
	grants, err := repo.ListGrants(ctx, "s1")
	if err != nil {
		t.Fatalf("list grants: %v", err)
	}
	if len(grants) != 2 || grants[0].Permission != domain.PermissionBrowse || grants[1].Permission != domain.PermissionScan {
		t.Fatalf("unexpected grants %+v", grants)
	}
}
