package users

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testDBSequence int

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	testDBSequence++
	dsn := fmt.Sprintf("file:users_test_%d?mode=memory&cache=shared", testDBSequence)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&User{}, &Ban{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db
}

func TestEnsureUserCreatesAndRefreshes(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	created, err := service.EnsureUser(ctx, Claims{UID: "osm-1", DisplayName: "alice", AvatarURL: "https://img/a.png"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Name != "alice" {
		t.Fatalf("expected display name to be stored, got %q", created.Name)
	}

	refreshed, err := service.EnsureUser(ctx, Claims{UID: "osm-1", DisplayName: "alice-renamed"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refreshed.Name != "alice-renamed" {
		t.Fatalf("expected refreshed display name, got %q", refreshed.Name)
	}

	var count int64
	if err := db.Model(&User{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single user row, got %d", count)
	}
}

func TestResolveActorUnknownUserIsAnonymous(t *testing.T) {
	service, _ := newTestService(t)

	actor, err := service.ResolveActor(context.Background(), "osm-404")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !actor.Anonymous() {
		t.Fatalf("unknown uid should resolve to an anonymous actor, got %+v", actor)
	}
}

func TestBanAndUnbanRoundTrip(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.EnsureUser(ctx, Claims{UID: "osm-1", DisplayName: "alice"}); err != nil {
		t.Fatalf("seed user failed: %v", err)
	}

	if err := service.BanUser(ctx, "admin-1", "osm-1", "spam uploads"); err != nil {
		t.Fatalf("ban failed: %v", err)
	}

	actor, err := service.ResolveActor(ctx, "osm-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !actor.Banned {
		t.Fatalf("expected banned actor after ban")
	}

	if err := service.BanUser(ctx, "admin-1", "osm-1", "again"); !errors.Is(err, ErrAlreadyBanned) {
		t.Fatalf("expected ErrAlreadyBanned, got %v", err)
	}

	if err := service.UnbanUser(ctx, "admin-1", "osm-1"); err != nil {
		t.Fatalf("unban failed: %v", err)
	}

	actor, err = service.ResolveActor(ctx, "osm-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if actor.Banned {
		t.Fatalf("expected lifted ban to clear banned flag")
	}

	if err := service.UnbanUser(ctx, "admin-1", "osm-1"); !errors.Is(err, ErrNotBanned) {
		t.Fatalf("expected ErrNotBanned, got %v", err)
	}
}

func TestBanUnknownUser(t *testing.T) {
	service, _ := newTestService(t)

	if err := service.BanUser(context.Background(), "admin-1", "osm-404", "reason"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestLookupByUIDAndName(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.EnsureUser(ctx, Claims{UID: "osm-1", DisplayName: "alice"}); err != nil {
		t.Fatalf("seed user failed: %v", err)
	}

	byUID, err := service.Lookup(ctx, "osm-1")
	if err != nil {
		t.Fatalf("lookup by uid failed: %v", err)
	}
	byName, err := service.Lookup(ctx, "alice")
	if err != nil {
		t.Fatalf("lookup by name failed: %v", err)
	}
	if byUID.UID != byName.UID {
		t.Fatalf("expected same user via uid and name")
	}

	if _, err := service.Lookup(ctx, "nobody"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestSetAdminPromotes(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.EnsureUser(ctx, Claims{UID: "osm-1", DisplayName: "alice"}); err != nil {
		t.Fatalf("seed user failed: %v", err)
	}
	if err := service.SetAdmin(ctx, "osm-1", true); err != nil {
		t.Fatalf("set admin failed: %v", err)
	}

	actor, err := service.ResolveActor(ctx, "osm-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !actor.Admin {
		t.Fatalf("expected admin actor after promotion")
	}
}
