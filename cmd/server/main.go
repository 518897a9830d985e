package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/snapvault/backend/internal/config"
	"github.com/snapvault/backend/internal/database"
	"github.com/snapvault/backend/internal/handlers"
	"github.com/snapvault/backend/internal/middleware"
	"github.com/snapvault/backend/internal/services"
	"github.com/snapvault/backend/internal/storage"
	"github.com/snapvault/backend/pkg/logger"
	"github.com/snapvault/backend/pkg/utils"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	storageClient, err := storage.New(context.Background(), cfg.Storage)
	if err != nil {
		log.Fatalf("storage initialization failed: %v", err)
	}

	membershipService := services.NewMembershipService(db, storageClient)
	photoService := services.NewPhotoService(db, storageClient, membershipService, cfg.Upload)

	authHandler := handlers.NewAuthHandler(db, storageClient, cfg.Upload.MaxAvatarBytes)
	groupsHandler := handlers.NewGroupsHandler(membershipService)
	photosHandler := handlers.NewPhotosHandler(photoService)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 256 * 1024 * 1024})
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

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":            cfg.Server.Port,
		"address":         listenAddr,
		"storage_backend": string(cfg.Storage.Backend),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
