package handlers

import (
	"io"
	"mime"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/snapvault/backend/internal/middleware"
	"github.com/snapvault/backend/internal/services"
	"github.com/snapvault/backend/pkg/utils"
)

type PhotosHandler struct {
	Photos *services.PhotoService
}

func NewPhotosHandler(photos *services.PhotoService) *PhotosHandler {
	return &PhotosHandler{Photos: photos}
}

const photoURLExpiry = 15 * time.Minute

func (h *PhotosHandler) Upload(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.FormValue("groupID"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid groupID")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}

	tags := parseTags(c.FormValue("tags"))
	var description *string
	if raw := strings.TrimSpace(c.FormValue("description")); raw != "" {
		description = &raw
	}

	photo, err := h.Photos.UploadPhoto(c.Context(), groupID, currentUser.ID, uploadFileFromHeader(fileHeader), tags, description)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusCreated, photo)
}

func (h *PhotosHandler) BatchUpload(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.FormValue("groupID"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid groupID")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid multipart form")
	}
	fileHeaders := form.File["files"]

	files := make([]services.UploadFile, 0, len(fileHeaders))
	for _, fileHeader := range fileHeaders {
		files = append(files, uploadFileFromHeader(fileHeader))
	}

	result, err := h.Photos.BatchUpload(c.Context(), groupID, currentUser.ID, files)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, result)
}

func (h *PhotosHandler) ListGroupPhotos(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("groupId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	p := utils.ParsePagination(c)
	filters := services.PhotoFilters{
		Tag:       strings.TrimSpace(c.Query("tag")),
		SortField: strings.TrimSpace(c.Query("sort")),
		SortOrder: strings.TrimSpace(c.Query("order")),
		Page:      p.Page,
		Limit:     p.Limit,
		Offset:    p.Offset,
	}

	if raw := strings.TrimSpace(c.Query("uploader")); raw != "" {
		uploaderID, err := parseUUID(raw)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid uploader id")
		}
		filters.UploaderID = &uploaderID
	}
	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid from date, expected RFC3339")
		}
		filters.From = &from
	}
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid to date, expected RFC3339")
		}
		filters.To = &to
	}

	photos, total, err := h.Photos.ListGroupPhotos(c.Context(), currentUser.ID, groupID, filters)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Paginated(c, photos, p.Page, p.Limit, total)
}

// ListMine lists the requester's own uploads across all groups.
func (h *PhotosHandler) ListMine(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	p := utils.ParsePagination(c)
	photos, total, err := h.Photos.ListMyPhotos(c.Context(), currentUser.ID, p.Limit, p.Offset)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Paginated(c, photos, p.Page, p.Limit, total)
}

func (h *PhotosHandler) Get(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	photoID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid photo id")
	}

	photo, err := h.Photos.GetPhoto(c.Context(), currentUser.ID, photoID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, photo)
}

func (h *PhotosHandler) Download(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	photoID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid photo id")
	}

	photo, stream, err := h.Photos.OpenPhoto(c.Context(), currentUser.ID, photoID)
	if err != nil {
		return respondServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, photo.MimeType)
	return c.SendStream(stream)
}

func (h *PhotosHandler) DownloadURL(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	photoID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid photo id")
	}

	url, err := h.Photos.ResolvePhotoURL(c.Context(), currentUser.ID, photoID, photoURLExpiry)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"url": url})
}

type updatePhotoRequest struct {
	Tags        []string `json:"tags"`
	Description *string  `json:"description"`
}

func (h *PhotosHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	photoID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid photo id")
	}

	var req updatePhotoRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	photo, err := h.Photos.UpdatePhotoTags(c.Context(), currentUser.ID, photoID, req.Tags, req.Description)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, photo)
}

func (h *PhotosHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	photoID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid photo id")
	}

	if err := h.Photos.DeletePhoto(c.Context(), currentUser.ID, photoID); err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "photo deleted"})
}

func uploadFileFromHeader(fileHeader *multipart.FileHeader) services.UploadFile {
	filename := filepath.Base(strings.TrimSpace(fileHeader.Filename))

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filename))
	}

	return services.UploadFile{
		Filename:     filename,
		DeclaredType: contentType,
		Size:         fileHeader.Size,
		Open: func() (io.ReadCloser, error) {
			return fileHeader.Open()
		},
	}
}

func parseTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return tags
}
