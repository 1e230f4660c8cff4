package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/fossgis/3dmr/internal/auth"
	"github.com/fossgis/3dmr/internal/catalog"
	"github.com/fossgis/3dmr/internal/storage"
	"github.com/fossgis/3dmr/internal/users"
	"github.com/fossgis/3dmr/internal/validate"
)

var serverTestDatabaseCounter atomic.Int64

// fakeProviderVerifier accepts any token of the form "token:<uid>".
type fakeProviderVerifier struct{}

func (fakeProviderVerifier) Verify(_ context.Context, token string) (auth.Profile, error) {
	const prefix = "token:"
	if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
		return auth.Profile{}, auth.ErrProviderRejected
	}
	uid := token[len(prefix):]
	return auth.Profile{UID: uid, DisplayName: "User " + uid}, nil
}

type sequentialIDGenerator struct {
	counter atomic.Int64
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	return fmt.Sprintf("change-%d", g.counter.Add(1)), nil
}

type testServer struct {
	handler http.Handler
	users   *users.Service
	catalog *catalog.Service
	tokens  *auth.TokenIssuer
	db      *gorm.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", serverTestDatabaseCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access connection pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&catalog.Model{}, &catalog.Category{}, &catalog.Comment{}, &catalog.Change{},
		&users.User{}, &users.Ban{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build users service: %v", err)
	}
	files, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to build file store: %v", err)
	}
	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Database:   db,
		Files:      files,
		IDProvider: &sequentialIDGenerator{},
		Clock:      func() time.Time { return time.Unix(1700000000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to build catalog service: %v", err)
	}
	tokens := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("server-test-secret"),
		Issuer:        "tdmr-test",
		Audience:      "tdmr-api",
	})

	handler, err := NewHTTPHandler(Dependencies{
		ProviderVerifier: fakeProviderVerifier{},
		TokenManager:     tokens,
		Users:            usersService,
		Catalog:          catalogService,
		Files:            files,
		Validator:        validate.NewGLBValidator(validate.GLBValidatorConfig{}),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &testServer{
		handler: handler,
		users:   usersService,
		catalog: catalogService,
		tokens:  tokens,
		db:      db,
	}
}

// tokenFor registers the account and returns a bearer token for it.
func (ts *testServer) tokenFor(t *testing.T, uid string, admin bool) string {
	t.Helper()
	if _, err := ts.users.EnsureUser(context.Background(), users.Claims{UID: uid, DisplayName: "User " + uid}); err != nil {
		t.Fatalf("failed to register user: %v", err)
	}
	if admin {
		if err := ts.users.SetAdmin(context.Background(), uid, true); err != nil {
			t.Fatalf("failed to promote user: %v", err)
		}
	}
	token, _, err := ts.tokens.IssueToken(context.Background(), uid)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (ts *testServer) do(t *testing.T, request *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	ts.handler.ServeHTTP(recorder, request)
	return recorder
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to encode request body: %v", err)
	}
	request := httptest.NewRequest(method, target, bytes.NewReader(encoded))
	request.Header.Set("Content-Type", "application/json")
	return request
}

func withBearer(request *http.Request, token string) *http.Request {
	request.Header.Set("Authorization", "Bearer "+token)
	return request
}

func glbFileContent() []byte {
	return append([]byte("glTF"), bytes.Repeat([]byte{0x02}, 24)...)
}

// uploadRequest builds a multipart upload with a metadata JSON field and a
// model file part.
func uploadRequest(t *testing.T, target string, meta interface{}, content []byte) *http.Request {
	t.Helper()
	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)

	if meta != nil {
		encoded, err := json.Marshal(meta)
		if err != nil {
			t.Fatalf("failed to encode metadata: %v", err)
		}
		if err := writer.WriteField("metadata", string(encoded)); err != nil {
			t.Fatalf("failed to write metadata field: %v", err)
		}
	}
	part, err := writer.CreateFormFile("model", "model.glb")
	if err != nil {
		t.Fatalf("failed to create file part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write file part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to finish multipart body: %v", err)
	}

	request := httptest.NewRequest(http.MethodPost, target, &buffer)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return request
}

func sampleUploadMetadata(title string) map[string]interface{} {
	return map[string]interface{}{
		"title":       title,
		"description": "a *fine* monument",
		"tags":        map[string]string{"building": "yes"},
		"categories":  []string{"monuments"},
		"license":     0,
		"scale":       1,
	}
}

func decodeJSONBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.NewDecoder(recorder.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

// uploadModel drives the full upload endpoint and returns the new model id.
func (ts *testServer) uploadModel(t *testing.T, token, title string) int {
	t.Helper()
	recorder := ts.do(t, withBearer(uploadRequest(t, "/api/upload", sampleUploadMetadata(title), glbFileContent()), token))
	if recorder.Code != http.StatusOK {
		t.Fatalf("upload failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	var response struct {
		ModelID  int `json:"model_id"`
		Revision int `json:"revision"`
	}
	decodeJSONBody(t, recorder, &response)
	return response.ModelID
}
