package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/mail"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/snapvault/backend/internal/middleware"
	"github.com/snapvault/backend/internal/models"
	"github.com/snapvault/backend/internal/services"
	"github.com/snapvault/backend/internal/storage"
	"github.com/snapvault/backend/pkg/logger"
	"github.com/snapvault/backend/pkg/utils"
	"gorm.io/gorm"
)

type AuthHandler struct {
	DB             *gorm.DB
	Storage        storage.Client
	MaxAvatarBytes int64
}

func NewAuthHandler(db *gorm.DB, storageClient storage.Client, maxAvatarBytes int64) *AuthHandler {
	return &AuthHandler{DB: db, Storage: storageClient, MaxAvatarBytes: maxAvatarBytes}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Bio      string `json:"bio"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	req.Bio = strings.TrimSpace(req.Bio)

	if _, err := mail.ParseAddress(req.Email); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid email")
	}
	if len(req.Password) < 8 {
		return utils.Error(c, fiber.StatusBadRequest, "password must be at least 8 characters")
	}
	if req.Name == "" {
		return utils.Error(c, fiber.StatusBadRequest, "name is required")
	}
	if len(req.Bio) > models.MaxBioLength {
		return utils.Error(c, fiber.StatusBadRequest, "bio must be at most 500 characters")
	}
	if req.Bio == "" {
		req.Bio = models.DefaultBio
	}

	passwordHash, err := utils.HashPassword(req.Password)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to hash password")
	}

	user := models.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: passwordHash,
		Bio:          req.Bio,
	}

	if err := h.DB.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return utils.Error(c, fiber.StatusConflict, "email already registered")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating user")
	}

	logger.Info("user_registered", map[string]interface{}{
		"user_id": user.ID.String(),
		"email":   user.Email,
	})

	token, err := utils.GenerateToken(&user)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	return utils.Success(c, fiber.StatusCreated, fiber.Map{"token": token, "user": user})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if req.Email == "" || req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email and password are required")
	}

	var user models.User
	if err := h.DB.First(&user, "email = ?", req.Email).Error; err != nil {
		logger.Warn("login_failed_user_not_found", map[string]interface{}{
			"email": req.Email,
			"ip":    c.IP(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid credentials")
	}

	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		logger.Warn("login_failed_invalid_password", map[string]interface{}{
			"user_id": user.ID.String(),
			"ip":      c.IP(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid credentials")
	}

	token, err := utils.GenerateToken(&user)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	logger.InfoWithUser(user.ID.String(), "user_logged_in", map[string]interface{}{
		"email": user.Email,
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"token": token, "user": user})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return utils.Success(c, fiber.StatusOK, currentUser)
}

type updateMeRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Bio   *string `json:"bio"`
}

func (h *AuthHandler) UpdateMe(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req updateMeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return utils.Error(c, fiber.StatusBadRequest, "name cannot be empty")
		}
		updates["name"] = name
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid email")
		}
		updates["email"] = email
	}
	if req.Bio != nil {
		bio := strings.TrimSpace(*req.Bio)
		if len(bio) > models.MaxBioLength {
			return utils.Error(c, fiber.StatusBadRequest, "bio must be at most 500 characters")
		}
		updates["bio"] = bio
	}
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	if err := h.DB.Model(currentUser).Updates(updates).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return utils.Error(c, fiber.StatusConflict, "email already registered")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating profile")
	}

	var updated models.User
	if err := h.DB.First(&updated, "id = ?", currentUser.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading updated profile")
	}
	return utils.Success(c, fiber.StatusOK, updated)
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req changePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if !utils.CheckPassword(req.OldPassword, currentUser.PasswordHash) {
		return utils.Error(c, fiber.StatusBadRequest, "incorrect password")
	}
	if len(req.NewPassword) < 8 {
		return utils.Error(c, fiber.StatusBadRequest, "password must be at least 8 characters")
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to hash password")
	}

	if err := h.DB.Model(currentUser).Update("password_hash", hash).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating password")
	}

	logger.InfoWithUser(currentUser.ID.String(), "password_changed", nil)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "password updated"})
}

// UploadAvatar validates the image against the avatar size limit and stores
// it through the configured backend, replacing any previous avatar.
func (h *AuthHandler) UploadAvatar(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}

	stream, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed opening uploaded file")
	}
	defer stream.Close()

	head := make([]byte, services.SniffLen)
	n, err := io.ReadFull(stream, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return utils.Error(c, fiber.StatusInternalServerError, "failed reading uploaded file")
	}
	head = head[:n]

	contentType, err := services.ValidateUpload(services.FileMeta{
		Filename:     fileHeader.Filename,
		DeclaredType: fileHeader.Header.Get("Content-Type"),
		Size:         fileHeader.Size,
		Head:         head,
	}, h.MaxAvatarBytes)
	if err != nil {
		return respondServiceError(c, err)
	}

	key := storage.NewObjectKey("avatars/"+currentUser.ID.String(), fileHeader.Filename)
	body := io.MultiReader(bytes.NewReader(head), stream)
	if err := h.Storage.Put(c.Context(), key, body, fileHeader.Size, contentType); err != nil {
		return utils.Error(c, fiber.StatusBadGateway, "failed storing avatar")
	}

	previous := currentUser.AvatarKey
	if err := h.DB.Model(currentUser).Update("avatar_key", key).Error; err != nil {
		_ = h.Storage.Delete(c.Context(), key)
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating profile")
	}
	if previous != nil {
		_ = h.Storage.Delete(c.Context(), *previous)
	}

	logger.InfoWithUser(currentUser.ID.String(), "avatar_updated", map[string]interface{}{
		"storage_key": key,
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"avatarKey": key})
}

// DeleteMe removes the account. Groups the user owns are deleted first with
// their memberships and photos, matching group deletion semantics; other
// memberships are simply dropped while uploaded photos in surviving groups
// are preserved.
func (h *AuthHandler) DeleteMe(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var ownedGroupIDs []string
	err := h.DB.Model(&models.GroupMembership{}).
		Where("user_id = ? AND role = ?", currentUser.ID, models.GroupRoleOwner).
		Pluck("group_id", &ownedGroupIDs).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading owned groups")
	}

	var orphanedKeys []string
	if len(ownedGroupIDs) > 0 {
		if err := h.DB.Model(&models.Photo{}).
			Where("group_id IN ?", ownedGroupIDs).
			Pluck("storage_key", &orphanedKeys).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed collecting group photos")
		}
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if len(ownedGroupIDs) > 0 {
			if err := tx.Where("group_id IN ?", ownedGroupIDs).Delete(&models.Photo{}).Error; err != nil {
				return err
			}
			if err := tx.Where("group_id IN ?", ownedGroupIDs).Delete(&models.GroupMembership{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", ownedGroupIDs).Delete(&models.Group{}).Error; err != nil {
				return err
			}
		}
		// Uploads in surviving groups are preserved; detach them, and any
		// group this user created but no longer owns, before the user row
		// goes so the uploader/creator foreign keys stay satisfied.
		if err := tx.Model(&models.Photo{}).Where("uploader_id = ?", currentUser.ID).Update("uploader_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Group{}).Where("creator_id = ?", currentUser.ID).Update("creator_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", currentUser.ID).Delete(&models.GroupMembership{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, "id = ?", currentUser.ID).Error
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting account")
	}

	for _, key := range orphanedKeys {
		if err := h.Storage.Delete(c.Context(), key); err != nil {
			logger.Error("account_photo_cleanup_failed", err, map[string]interface{}{
				"storage_key": key,
			})
		}
	}
	if currentUser.AvatarKey != nil {
		_ = h.Storage.Delete(c.Context(), *currentUser.AvatarKey)
	}

	logger.InfoWithUser(currentUser.ID.String(), "account_deleted", map[string]interface{}{
		"owned_groups": len(ownedGroupIDs),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "account deleted"})
}
