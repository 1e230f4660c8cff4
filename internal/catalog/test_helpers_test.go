package catalog

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/fossgis/3dmr/internal/users"
)

var (
	actorAlice  = users.Actor{UID: "osm-1"}
	actorBob    = users.Actor{UID: "osm-2"}
	actorAdmin  = users.Actor{UID: "osm-9", Admin: true}
	actorBanned = users.Actor{UID: "osm-6", Banned: true}
	anonymous   = users.Actor{}
)

type memoryFileStore struct {
	files      map[string][]byte
	failWrites bool
}

func newMemoryFileStore() *memoryFileStore {
	return &memoryFileStore{files: map[string][]byte{}}
}

func (m *memoryFileStore) Write(modelID, revision int, content io.Reader) (int64, error) {
	if m.failWrites {
		return 0, errors.New("disk full")
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return 0, err
	}
	m.files[fmt.Sprintf("%d/%d", modelID, revision)] = data
	return int64(len(data)), nil
}

func (m *memoryFileStore) RemoveModel(modelID int) error {
	prefix := fmt.Sprintf("%d/", modelID)
	for key := range m.files {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(m.files, key)
		}
	}
	return nil
}

type sequentialIDGenerator struct {
	next int
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("change-%d", g.next), nil
}

var testDBSequence int

func newTestService(t *testing.T) (*Service, *gorm.DB, *memoryFileStore) {
	t.Helper()
	testDBSequence++
	dsn := fmt.Sprintf("file:catalog_test_%d?mode=memory&cache=shared", testDBSequence)
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

	if err := db.AutoMigrate(&Model{}, &Category{}, &Comment{}, &Change{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	files := newMemoryFileStore()
	service, err := NewService(ServiceConfig{
		Database:   db,
		Files:      files,
		IDProvider: &sequentialIDGenerator{},
		Clock:      func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db, files
}

func sampleMetadata(title string) Metadata {
	return Metadata{
		Title:       title,
		Description: "a *fine* monument",
		Tags:        map[string]string{"shape": "pyramidal"},
		Categories:  []string{"monuments"},
		License:     LicenseCC0,
		Scale:       1,
	}
}

func floatPtr(value float64) *float64 {
	return &value
}

func glbContent() io.Reader {
	return strings.NewReader("glTF-fake-binary")
}

func latestCount(t *testing.T, db *gorm.DB, modelID int) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&Model{}).Where("model_id = ? AND latest = ?", modelID, true).Count(&count).Error; err != nil {
		t.Fatalf("latest count failed: %v", err)
	}
	return count
}
