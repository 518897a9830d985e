package handlers

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/snapvault/backend/internal/config"
	"github.com/snapvault/backend/internal/middleware"
	"github.com/snapvault/backend/internal/models"
	"github.com/snapvault/backend/internal/services"
	"github.com/snapvault/backend/internal/storage"
	"github.com/snapvault/backend/pkg/logger"
	"github.com/snapvault/backend/pkg/utils"
	"gorm.io/gorm"
)

type testEnv struct {
	app         *fiber.App
	db          *gorm.DB
	storageRoot string
}

var testSetupOnce sync.Once

// testUploadLimits keeps multipart test bodies small; the enforcement path is
// identical regardless of the configured byte limit.
var testUploadLimits = config.UploadConfig{
	MaxPhotoBytes:  1 * 1024 * 1024,
	MaxAvatarBytes: 512 * 1024,
	MaxBatchFiles:  20,
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.GroupMembership{},
		&models.Photo{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	storageRoot := t.TempDir()
	storageClient, err := storage.NewLocalClient(config.LocalStorageConfig{
		RootDir: storageRoot,
		BaseURL: "/uploads",
	})
	if err != nil {
		t.Fatalf("failed creating local storage client: %v", err)
	}

	membershipService := services.NewMembershipService(db, storageClient)
	photoService := services.NewPhotoService(db, storageClient, membershipService, testUploadLimits)

	authHandler := NewAuthHandler(db, storageClient, testUploadLimits.MaxAvatarBytes)
	groupsHandler := NewGroupsHandler(membershipService)
	photosHandler := NewPhotosHandler(photoService)
	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 64 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)
	authRoutes.Put("/me", authMiddleware.RequireAuth, authHandler.UpdateMe)
	authRoutes.Put("/password", authMiddleware.RequireAuth, authHandler.ChangePassword)
	authRoutes.Post("/me/avatar", authMiddleware.RequireAuth, authHandler.UploadAvatar)
	authRoutes.Delete("/me", authMiddleware.RequireAuth, authHandler.DeleteMe)

	groupRoutes := api.Group("/groups", authMiddleware.RequireAuth)
	groupRoutes.Post("/", groupsHandler.Create)
	groupRoutes.Post("/join", groupsHandler.Join)
	groupRoutes.Get("/", groupsHandler.List)
	groupRoutes.Get("/:id", groupsHandler.Get)
	groupRoutes.Put("/:id", groupsHandler.Update)
	groupRoutes.Delete("/:id", groupsHandler.Delete)
	groupRoutes.Post("/:id/leave", groupsHandler.Leave)
	groupRoutes.Get("/:id/members", groupsHandler.ListMembers)
	groupRoutes.Put("/:id/members/:userId", groupsHandler.UpdateMemberRole)
	groupRoutes.Delete("/:id/members/:userId", groupsHandler.RemoveMember)
	groupRoutes.Post("/:id/transfer", groupsHandler.TransferOwnership)
	groupRoutes.Get("/:groupId/photos", photosHandler.ListGroupPhotos)

	photoRoutes := api.Group("/photos", authMiddleware.RequireAuth)
	photoRoutes.Get("/", photosHandler.ListMine)
	photoRoutes.Post("/upload", photosHandler.Upload)
	photoRoutes.Post("/batch-upload", photosHandler.BatchUpload)
	photoRoutes.Get("/:id", photosHandler.Get)
	photoRoutes.Get("/:id/download", photosHandler.Download)
	photoRoutes.Get("/:id/download-url", photosHandler.DownloadURL)
	photoRoutes.Put("/:id", photosHandler.Update)
	photoRoutes.Delete("/:id", photosHandler.Delete)

	return &testEnv{app: app, db: db, storageRoot: storageRoot}
}

func createTestUser(t *testing.T, db *gorm.DB, email, password string) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Name:         "Test User",
		Email:        email,
		PasswordHash: hash,
		Bio:          models.DefaultBio,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}

func assertErrorKind(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["kind"].(string); got != expected {
		t.Fatalf("expected error kind %q, got %q (body=%+v)", expected, got, body)
	}
}

// createTestGroup goes through the API so the owner membership is created the
// same way production requests create it.
func createTestGroup(t *testing.T, env *testEnv, token, name string) map[string]any {
	t.Helper()

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/groups/", map[string]any{"name": name}, authHeaders(token))
	assertStatus(t, resp, fiber.StatusCreated)
	body := decodeJSONMap(t, resp)
	group, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected group payload, got %+v", body)
	}
	return group
}

func joinTestGroup(t *testing.T, env *testEnv, token, inviteCode string) {
	t.Helper()

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/groups/join", map[string]any{"inviteCode": inviteCode}, authHeaders(token))
	assertStatus(t, resp, fiber.StatusCreated)
	resp.Body.Close()
}

type multipartFile struct {
	Field       string
	Filename    string
	ContentType string
	Content     []byte
}

func buildMultipartBody(t *testing.T, fields map[string]string, files []multipartFile) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed writing form field %s: %v", key, err)
		}
	}

	for _, file := range files {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.Filename))
		header.Set("Content-Type", file.ContentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("failed creating multipart part: %v", err)
		}
		if _, err := part.Write(file.Content); err != nil {
			t.Fatalf("failed writing multipart content: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed closing multipart writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

// pngBytes returns a payload that content sniffing identifies as image/png.
func pngBytes(size int) []byte {
	signature := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	if size <= len(signature) {
		return signature
	}
	data := make([]byte, size)
	copy(data, signature)
	return data
}

// jpegBytes returns a payload that content sniffing identifies as image/jpeg.
func jpegBytes(size int) []byte {
	signature := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	if size <= len(signature) {
		return signature
	}
	data := make([]byte, size)
	copy(data, signature)
	return data
}
