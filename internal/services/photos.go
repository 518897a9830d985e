package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/snapvault/backend/internal/config"
	"github.com/snapvault/backend/internal/models"
	"github.com/snapvault/backend/internal/storage"
	"github.com/snapvault/backend/pkg/logger"
	"gorm.io/gorm"
)

type PhotoService struct {
	DB      *gorm.DB
	Storage storage.Client
	Members *MembershipService
	Limits  config.UploadConfig
}

func NewPhotoService(db *gorm.DB, storageClient storage.Client, members *MembershipService, limits config.UploadConfig) *PhotoService {
	return &PhotoService{DB: db, Storage: storageClient, Members: members, Limits: limits}
}

// UploadFile carries one pending upload. Open is called at most once, when
// the file has passed validation and is about to be persisted.
type UploadFile struct {
	Filename     string
	DeclaredType string
	Size         int64
	Open         func() (io.ReadCloser, error)
}

type BatchFailure struct {
	Filename string    `json:"filename"`
	Kind     ErrorKind `json:"kind"`
	Reason   string    `json:"reason"`
}

// BatchResult reports per-file outcomes of a partial-success batch.
type BatchResult struct {
	Successful []models.Photo `json:"successful"`
	Failed     []BatchFailure `json:"failed"`
}

// PhotoFilters narrows and pages a group photo listing.
type PhotoFilters struct {
	Tag        string
	UploaderID *uuid.UUID
	From       *time.Time
	To         *time.Time
	SortField  string
	SortOrder  string
	Page       int
	Limit      int
	Offset     int
}

var photoSortFields = map[string]bool{
	"created_at": true,
	"size":       true,
}

// UploadPhoto is all-or-nothing: a failed validation or storage write leaves
// no record, and a failed record write removes the stored bytes.
func (s *PhotoService) UploadPhoto(ctx context.Context, groupID, uploaderID uuid.UUID, file UploadFile, tags []string, description *string) (*models.Photo, error) {
	if err := s.Members.Authorize(ctx, uploaderID, groupID, ActionUploadPhoto); err != nil {
		return nil, err
	}
	return s.storePhoto(ctx, groupID, uploaderID, file, tags, description)
}

// BatchUpload validates and stores each file independently; individual
// failures are reported, not escalated. An oversized batch fails upfront
// before any file is touched.
func (s *PhotoService) BatchUpload(ctx context.Context, groupID, uploaderID uuid.UUID, files []UploadFile) (*BatchResult, error) {
	if err := s.Members.Authorize(ctx, uploaderID, groupID, ActionUploadPhoto); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, newError(KindValidation, "no files provided")
	}
	if len(files) > s.Limits.MaxBatchFiles {
		return nil, newError(KindTooManyFiles,
			fmt.Sprintf("batch of %d files exceeds the limit of %d", len(files), s.Limits.MaxBatchFiles))
	}

	result := &BatchResult{
		Successful: []models.Photo{},
		Failed:     []BatchFailure{},
	}
	for _, file := range files {
		photo, err := s.storePhoto(ctx, groupID, uploaderID, file, nil, nil)
		if err != nil {
			var svcErr *Error
			if !errors.As(err, &svcErr) {
				svcErr = newError(KindInternal, "upload failed")
			}
			result.Failed = append(result.Failed, BatchFailure{
				Filename: file.Filename,
				Kind:     svcErr.Kind,
				Reason:   svcErr.Reason,
			})
			continue
		}
		result.Successful = append(result.Successful, *photo)
	}
	return result, nil
}

func (s *PhotoService) storePhoto(ctx context.Context, groupID, uploaderID uuid.UUID, file UploadFile, tags []string, description *string) (*models.Photo, error) {
	stream, err := file.Open()
	if err != nil {
		return nil, newError(KindInternal, "failed opening uploaded file")
	}
	defer stream.Close()

	head := make([]byte, SniffLen)
	n, err := io.ReadFull(stream, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, newError(KindInternal, "failed reading uploaded file")
	}
	head = head[:n]

	contentType, err := ValidateUpload(FileMeta{
		Filename:     file.Filename,
		DeclaredType: file.DeclaredType,
		Size:         file.Size,
		Head:         head,
	}, s.Limits.MaxPhotoBytes)
	if err != nil {
		return nil, err
	}

	key := storage.NewObjectKey("photos/"+groupID.String(), file.Filename)
	body := io.MultiReader(bytes.NewReader(head), stream)
	if err := s.Storage.Put(ctx, key, body, file.Size, contentType); err != nil {
		return nil, newError(KindStorageWrite, "failed writing file to storage")
	}

	photo := models.Photo{
		GroupID:     groupID,
		UploaderID:  &uploaderID,
		StorageKey:  key,
		MimeType:    contentType,
		Size:        file.Size,
		Description: description,
		Tags:        normalizeTags(tags),
	}
	if err := s.DB.WithContext(ctx).Create(&photo).Error; err != nil {
		// Never leave bytes without a record: roll the object back.
		if delErr := s.Storage.Delete(ctx, key); delErr != nil {
			logger.Error("photo_rollback_failed", delErr, map[string]interface{}{
				"storage_key": key,
			})
		}
		return nil, newError(KindInternal, "failed creating photo record")
	}

	logger.InfoWithUser(uploaderID.String(), "photo_uploaded", map[string]interface{}{
		"photo_id":    photo.ID.String(),
		"group_id":    groupID.String(),
		"storage_key": key,
		"size":        file.Size,
		"mime_type":   contentType,
	})
	return &photo, nil
}

// ListGroupPhotos returns a page of the group's photos, newest first by
// default. The offset/limit pair makes the sequence restartable.
func (s *PhotoService) ListGroupPhotos(ctx context.Context, requesterID, groupID uuid.UUID, filters PhotoFilters) ([]models.Photo, int64, error) {
	if err := s.Members.Authorize(ctx, requesterID, groupID, ActionViewPhotos); err != nil {
		return nil, 0, err
	}

	query := s.DB.WithContext(ctx).Model(&models.Photo{}).Where("group_id = ?", groupID)
	if filters.Tag != "" {
		// Tags are stored as a JSON array of strings; match the quoted
		// element so "trip" does not match "roadtrip".
		query = query.Where("tags LIKE ?", `%"`+strings.ReplaceAll(filters.Tag, `"`, "")+`"%`)
	}
	if filters.UploaderID != nil {
		query = query.Where("uploader_id = ?", *filters.UploaderID)
	}
	if filters.From != nil {
		query = query.Where("created_at >= ?", *filters.From)
	}
	if filters.To != nil {
		query = query.Where("created_at <= ?", *filters.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, newError(KindInternal, "failed counting photos")
	}

	sortField := filters.SortField
	if !photoSortFields[sortField] {
		sortField = "created_at"
	}
	sortOrder := "DESC"
	if strings.EqualFold(filters.SortOrder, "asc") {
		sortOrder = "ASC"
	}

	var photos []models.Photo
	err := query.
		Preload("Uploader").
		Order(sortField + " " + sortOrder).
		Offset(filters.Offset).
		Limit(filters.Limit).
		Find(&photos).Error
	if err != nil {
		return nil, 0, newError(KindInternal, "failed listing photos")
	}
	return photos, total, nil
}

// ListMyPhotos returns every photo the requester uploaded, across all their
// groups, newest first.
func (s *PhotoService) ListMyPhotos(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]models.Photo, int64, error) {
	query := s.DB.WithContext(ctx).Model(&models.Photo{}).Where("uploader_id = ?", requesterID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, newError(KindInternal, "failed counting photos")
	}

	var photos []models.Photo
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&photos).Error
	if err != nil {
		return nil, 0, newError(KindInternal, "failed listing photos")
	}
	return photos, total, nil
}

func (s *PhotoService) GetPhoto(ctx context.Context, requesterID, photoID uuid.UUID) (*models.Photo, error) {
	var photo models.Photo
	if err := s.DB.WithContext(ctx).Preload("Uploader").First(&photo, "id = ?", photoID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "photo not found")
		}
		return nil, newError(KindInternal, "failed loading photo")
	}

	if err := s.Members.Authorize(ctx, requesterID, photo.GroupID, ActionViewPhotos); err != nil {
		return nil, err
	}
	return &photo, nil
}

// DeletePhoto allows uploaders to remove their own photos; removing someone
// else's requires admin or above.
func (s *PhotoService) DeletePhoto(ctx context.Context, requesterID, photoID uuid.UUID) error {
	var photo models.Photo
	if err := s.DB.WithContext(ctx).First(&photo, "id = ?", photoID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(KindNotFound, "photo not found")
		}
		return newError(KindInternal, "failed loading photo")
	}

	if photo.UploaderID != nil && *photo.UploaderID == requesterID {
		if err := s.Members.Authorize(ctx, requesterID, photo.GroupID, ActionViewPhotos); err != nil {
			return err
		}
	} else {
		if err := s.Members.Authorize(ctx, requesterID, photo.GroupID, ActionDeleteOthersPhoto); err != nil {
			return err
		}
	}

	if err := s.DB.WithContext(ctx).Delete(&models.Photo{}, "id = ?", photo.ID).Error; err != nil {
		return newError(KindInternal, "failed deleting photo")
	}

	if err := s.Storage.Delete(ctx, photo.StorageKey); err != nil {
		logger.Error("photo_bytes_cleanup_failed", err, map[string]interface{}{
			"photo_id":    photo.ID.String(),
			"storage_key": photo.StorageKey,
		})
	}

	logger.InfoWithUser(requesterID.String(), "photo_deleted", map[string]interface{}{
		"photo_id": photo.ID.String(),
		"group_id": photo.GroupID.String(),
	})
	return nil
}

// OpenPhoto streams the stored bytes through the configured backend.
func (s *PhotoService) OpenPhoto(ctx context.Context, requesterID, photoID uuid.UUID) (*models.Photo, io.ReadCloser, error) {
	photo, err := s.GetPhoto(ctx, requesterID, photoID)
	if err != nil {
		return nil, nil, err
	}
	stream, err := s.Storage.Open(ctx, photo.StorageKey)
	if err != nil {
		return nil, nil, newError(KindStorageWrite, "failed reading file from storage")
	}
	return photo, stream, nil
}

// ResolvePhotoURL returns a short-lived URL for the photo bytes, resolved
// by the same backend that stored them.
func (s *PhotoService) ResolvePhotoURL(ctx context.Context, requesterID, photoID uuid.UUID, expiry time.Duration) (string, error) {
	photo, err := s.GetPhoto(ctx, requesterID, photoID)
	if err != nil {
		return "", err
	}
	url, err := s.Storage.URL(ctx, photo.StorageKey, expiry)
	if err != nil {
		return "", newError(KindStorageWrite, "failed resolving file URL")
	}
	return url, nil
}

// UpdatePhotoTags replaces the tag set and description on a photo. The
// uploader may retag their own photo; tagging others' photos requires the
// tag threshold plus admin for replacement of someone else's metadata.
func (s *PhotoService) UpdatePhotoTags(ctx context.Context, requesterID, photoID uuid.UUID, tags []string, description *string) (*models.Photo, error) {
	var photo models.Photo
	if err := s.DB.WithContext(ctx).First(&photo, "id = ?", photoID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "photo not found")
		}
		return nil, newError(KindInternal, "failed loading photo")
	}

	if err := s.Members.Authorize(ctx, requesterID, photo.GroupID, ActionTagPhoto); err != nil {
		return nil, err
	}
	if photo.UploaderID == nil || *photo.UploaderID != requesterID {
		if err := s.Members.Authorize(ctx, requesterID, photo.GroupID, ActionDeleteOthersPhoto); err != nil {
			return nil, err
		}
	}

	photo.Tags = normalizeTags(tags)
	fields := []string{"tags"}
	if description != nil {
		trimmed := strings.TrimSpace(*description)
		photo.Description = &trimmed
		fields = append(fields, "description")
	}

	// Update through the struct so the JSON serializer on Tags applies; a
	// map value would reach the driver as a raw row value.
	if err := s.DB.WithContext(ctx).Model(&photo).Select(fields).Updates(&photo).Error; err != nil {
		return nil, newError(KindInternal, "failed updating photo")
	}
	return &photo, nil
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
