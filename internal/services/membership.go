package services

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/snapvault/backend/internal/models"
	"github.com/snapvault/backend/internal/storage"
	"github.com/snapvault/backend/pkg/logger"
	"gorm.io/gorm"
)

// Action is a group-scoped operation gated by the role table below.
type Action string

const (
	ActionViewGroup         Action = "view_group"
	ActionListMembers       Action = "list_members"
	ActionViewPhotos        Action = "view_photos"
	ActionUploadPhoto       Action = "upload_photo"
	ActionTagPhoto          Action = "tag_photo"
	ActionUpdateGroup       Action = "update_group"
	ActionModerateMembers   Action = "moderate_members"
	ActionDeleteOthersPhoto Action = "delete_others_photo"
	ActionViewAnalytics     Action = "view_analytics"
	ActionDeleteGroup       Action = "delete_group"
	ActionTransferOwnership Action = "transfer_ownership"
)

// requiredRole is the minimum role per action. Higher roles satisfy lower
// thresholds through the rank order on GroupRole.
var requiredRole = map[Action]models.GroupRole{
	ActionViewGroup:         models.GroupRoleRestrictedViewer,
	ActionListMembers:       models.GroupRoleRestrictedViewer,
	ActionViewPhotos:        models.GroupRoleRestrictedViewer,
	ActionUploadPhoto:       models.GroupRoleContributor,
	ActionTagPhoto:          models.GroupRoleContributor,
	ActionUpdateGroup:       models.GroupRoleAdmin,
	ActionModerateMembers:   models.GroupRoleAdmin,
	ActionDeleteOthersPhoto: models.GroupRoleAdmin,
	ActionViewAnalytics:     models.GroupRoleAdmin,
	ActionDeleteGroup:       models.GroupRoleOwner,
	ActionTransferOwnership: models.GroupRoleOwner,
}

const inviteCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const inviteCodeAttempts = 10

type MembershipService struct {
	DB      *gorm.DB
	Storage storage.Client
}

func NewMembershipService(db *gorm.DB, storageClient storage.Client) *MembershipService {
	return &MembershipService{DB: db, Storage: storageClient}
}

// CreateGroup creates the group and the creator's owner membership in one
// transaction. Invite-code collisions are retried against the unique index.
func (s *MembershipService) CreateGroup(ctx context.Context, creatorID uuid.UUID, name string, description *string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if len(name) < 2 {
		return nil, newError(KindValidation, "group name must be at least 2 characters")
	}

	var group models.Group
	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		code, err := generateInviteCode(models.InviteCodeLength)
		if err != nil {
			return nil, newError(KindInternal, "failed generating invite code")
		}

		group = models.Group{
			Name:        name,
			Description: description,
			CreatorID:   &creatorID,
			InviteCode:  code,
		}

		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&group).Error; err != nil {
				return err
			}
			membership := models.GroupMembership{
				UserID:  creatorID,
				GroupID: group.ID,
				Role:    models.GroupRoleOwner,
			}
			return tx.Create(&membership).Error
		})
		if err == nil {
			logger.InfoWithUser(creatorID.String(), "group_created", map[string]interface{}{
				"group_id":   group.ID.String(),
				"group_name": group.Name,
			})
			return &group, nil
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			group.ID = uuid.Nil
			continue
		}
		return nil, newError(KindInternal, "failed creating group")
	}

	return nil, newError(KindConflict, "could not generate a unique invite code")
}

// JoinGroup redeems an invite code. The (user, group) unique index is the
// authority on duplicates: a racing second join surfaces as a duplicated
// key, not a second membership row.
func (s *MembershipService) JoinGroup(ctx context.Context, userID uuid.UUID, inviteCode string) (*models.GroupMembership, error) {
	// Malformed codes take the same path as unknown ones: the lookup
	// simply finds no group.
	inviteCode = strings.ToUpper(strings.TrimSpace(inviteCode))

	var group models.Group
	if err := s.DB.WithContext(ctx).First(&group, "invite_code = ?", inviteCode).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "group not found")
		}
		return nil, newError(KindInternal, "failed looking up invite code")
	}

	membership := models.GroupMembership{
		UserID:  userID,
		GroupID: group.ID,
		Role:    models.GroupRoleRestrictedViewer,
	}
	if err := s.DB.WithContext(ctx).Create(&membership).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, newError(KindAlreadyMember, "you already joined this group")
		}
		return nil, newError(KindInternal, "failed joining group")
	}

	logger.InfoWithUser(userID.String(), "group_joined", map[string]interface{}{
		"group_id":   group.ID.String(),
		"group_name": group.Name,
	})

	membership.Group = group
	return &membership, nil
}

// GetRole is a pure lookup with no side effects.
func (s *MembershipService) GetRole(ctx context.Context, userID, groupID uuid.UUID) (models.GroupRole, bool, error) {
	var membership models.GroupMembership
	err := s.DB.WithContext(ctx).First(&membership, "group_id = ? AND user_id = ?", groupID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, newError(KindInternal, "failed loading membership")
	}
	return membership.Role, true, nil
}

// Authorize re-reads the current membership on every call so role changes
// take effect immediately; nothing is cached across requests.
func (s *MembershipService) Authorize(ctx context.Context, userID, groupID uuid.UUID, action Action) error {
	required, ok := requiredRole[action]
	if !ok {
		return newError(KindForbidden, "unknown action")
	}

	if err := s.requireGroup(ctx, groupID); err != nil {
		return err
	}

	role, member, err := s.GetRole(ctx, userID, groupID)
	if err != nil {
		return err
	}
	if !member {
		return newError(KindForbidden, "you are not a member of this group")
	}
	if !role.AtLeast(required) {
		return newError(KindForbidden, "insufficient role for this action")
	}
	return nil
}

func (s *MembershipService) LeaveGroup(ctx context.Context, userID, groupID uuid.UUID) error {
	if err := s.requireGroup(ctx, groupID); err != nil {
		return err
	}

	var membership models.GroupMembership
	err := s.DB.WithContext(ctx).First(&membership, "group_id = ? AND user_id = ?", groupID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(KindForbidden, "you are not a member of this group")
		}
		return newError(KindInternal, "failed loading membership")
	}
	if membership.Role == models.GroupRoleOwner {
		return newError(KindForbidden, "owner cannot leave their own group")
	}

	if err := s.DB.WithContext(ctx).Delete(&models.GroupMembership{}, "id = ?", membership.ID).Error; err != nil {
		return newError(KindInternal, "failed leaving group")
	}

	logger.InfoWithUser(userID.String(), "group_left", map[string]interface{}{
		"group_id": groupID.String(),
	})
	return nil
}

// DeleteGroup cascades memberships and photo records in one transaction,
// then deletes stored photo bytes best-effort. Irreversible.
func (s *MembershipService) DeleteGroup(ctx context.Context, requesterID, groupID uuid.UUID) error {
	if err := s.Authorize(ctx, requesterID, groupID, ActionDeleteGroup); err != nil {
		return err
	}

	var keys []string
	if err := s.DB.WithContext(ctx).Model(&models.Photo{}).
		Where("group_id = ?", groupID).
		Pluck("storage_key", &keys).Error; err != nil {
		return newError(KindInternal, "failed collecting group photos")
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", groupID).Delete(&models.Photo{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&models.GroupMembership{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Group{}, "id = ?", groupID).Error
	})
	if err != nil {
		return newError(KindInternal, "failed deleting group")
	}

	if s.Storage != nil {
		for _, key := range keys {
			if err := s.Storage.Delete(ctx, key); err != nil {
				logger.Error("group_photo_cleanup_failed", err, map[string]interface{}{
					"group_id":    groupID.String(),
					"storage_key": key,
				})
			}
		}
	}

	logger.InfoWithUser(requesterID.String(), "group_deleted", map[string]interface{}{
		"group_id":    groupID.String(),
		"photo_count": len(keys),
	})
	return nil
}

func (s *MembershipService) UpdateGroup(ctx context.Context, requesterID, groupID uuid.UUID, name *string, description *string) (*models.Group, error) {
	if err := s.Authorize(ctx, requesterID, groupID, ActionUpdateGroup); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if len(trimmed) < 2 {
			return nil, newError(KindValidation, "group name must be at least 2 characters")
		}
		updates["name"] = trimmed
	}
	if description != nil {
		trimmed := strings.TrimSpace(*description)
		if trimmed == "" {
			updates["description"] = nil
		} else {
			updates["description"] = trimmed
		}
	}
	if len(updates) == 0 {
		return nil, newError(KindValidation, "no valid fields to update")
	}

	if err := s.DB.WithContext(ctx).Model(&models.Group{}).Where("id = ?", groupID).Updates(updates).Error; err != nil {
		return nil, newError(KindInternal, "failed updating group")
	}

	var updated models.Group
	if err := s.DB.WithContext(ctx).First(&updated, "id = ?", groupID).Error; err != nil {
		return nil, newError(KindInternal, "failed loading updated group")
	}
	return &updated, nil
}

func (s *MembershipService) ListGroups(ctx context.Context, userID uuid.UUID) ([]models.Group, error) {
	var groups []models.Group
	err := s.DB.WithContext(ctx).
		Model(&models.Group{}).
		Joins("JOIN group_memberships ON group_memberships.group_id = groups.id").
		Where("group_memberships.user_id = ?", userID).
		Order("groups.created_at DESC").
		Find(&groups).Error
	if err != nil {
		return nil, newError(KindInternal, "failed listing groups")
	}
	return groups, nil
}

func (s *MembershipService) GetGroup(ctx context.Context, requesterID, groupID uuid.UUID) (*models.Group, error) {
	if err := s.Authorize(ctx, requesterID, groupID, ActionViewGroup); err != nil {
		return nil, err
	}

	var group models.Group
	if err := s.DB.WithContext(ctx).Preload("Memberships.User").First(&group, "id = ?", groupID).Error; err != nil {
		return nil, newError(KindInternal, "failed loading group")
	}
	return &group, nil
}

func (s *MembershipService) ListMembers(ctx context.Context, requesterID, groupID uuid.UUID) ([]models.GroupMembership, error) {
	if err := s.Authorize(ctx, requesterID, groupID, ActionListMembers); err != nil {
		return nil, err
	}

	var memberships []models.GroupMembership
	err := s.DB.WithContext(ctx).
		Preload("User").
		Where("group_id = ?", groupID).
		Order("created_at ASC").
		Find(&memberships).Error
	if err != nil {
		return nil, newError(KindInternal, "failed listing members")
	}
	return memberships, nil
}

// UpdateMemberRole assigns any non-owner role; admins cannot touch the
// owner or their own membership.
func (s *MembershipService) UpdateMemberRole(ctx context.Context, requesterID, groupID, targetUserID uuid.UUID, role models.GroupRole) (*models.GroupMembership, error) {
	if err := s.Authorize(ctx, requesterID, groupID, ActionModerateMembers); err != nil {
		return nil, err
	}
	if !role.Valid() || role == models.GroupRoleOwner {
		return nil, newError(KindValidation, "invalid role")
	}
	if targetUserID == requesterID {
		return nil, newError(KindForbidden, "you cannot change your own role")
	}

	var target models.GroupMembership
	err := s.DB.WithContext(ctx).First(&target, "group_id = ? AND user_id = ?", groupID, targetUserID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "member not found in this group")
		}
		return nil, newError(KindInternal, "failed loading target membership")
	}
	if target.Role == models.GroupRoleOwner {
		return nil, newError(KindForbidden, "cannot change role of the group owner")
	}

	if err := s.DB.WithContext(ctx).Model(&models.GroupMembership{}).Where("id = ?", target.ID).Update("role", role).Error; err != nil {
		return nil, newError(KindInternal, "failed updating member role")
	}

	target.Role = role
	return &target, nil
}

// RemoveMember ejects a non-owner member; admins may not remove other
// admins, only the owner can.
func (s *MembershipService) RemoveMember(ctx context.Context, requesterID, groupID, targetUserID uuid.UUID) error {
	if err := s.Authorize(ctx, requesterID, groupID, ActionModerateMembers); err != nil {
		return err
	}

	var target models.GroupMembership
	err := s.DB.WithContext(ctx).First(&target, "group_id = ? AND user_id = ?", groupID, targetUserID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(KindNotFound, "member not found in this group")
		}
		return newError(KindInternal, "failed loading target membership")
	}
	if target.Role == models.GroupRoleOwner {
		return newError(KindForbidden, "cannot remove the group owner")
	}

	requesterRole, _, err := s.GetRole(ctx, requesterID, groupID)
	if err != nil {
		return err
	}
	if target.Role == models.GroupRoleAdmin && requesterRole != models.GroupRoleOwner {
		return newError(KindForbidden, "admins cannot remove other admins")
	}

	if err := s.DB.WithContext(ctx).Delete(&models.GroupMembership{}, "id = ?", target.ID).Error; err != nil {
		return newError(KindInternal, "failed removing member")
	}
	return nil
}

// TransferOwnership makes the target the sole owner and demotes the
// previous owner to restricted-viewer, auditable via the log stream.
func (s *MembershipService) TransferOwnership(ctx context.Context, requesterID, groupID, newOwnerID uuid.UUID) error {
	if err := s.Authorize(ctx, requesterID, groupID, ActionTransferOwnership); err != nil {
		return err
	}
	if newOwnerID == requesterID {
		return newError(KindValidation, "you are already the owner")
	}

	var target models.GroupMembership
	err := s.DB.WithContext(ctx).First(&target, "group_id = ? AND user_id = ?", groupID, newOwnerID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(KindNotFound, "new owner is not a member of this group")
		}
		return newError(KindInternal, "failed loading target membership")
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.GroupMembership{}).
			Where("group_id = ? AND user_id = ?", groupID, requesterID).
			Update("role", models.GroupRoleRestrictedViewer).Error; err != nil {
			return err
		}
		return tx.Model(&models.GroupMembership{}).
			Where("id = ?", target.ID).
			Update("role", models.GroupRoleOwner).Error
	})
	if err != nil {
		return newError(KindInternal, "failed transferring ownership")
	}

	logger.InfoWithUser(requesterID.String(), "group_ownership_transferred", map[string]interface{}{
		"group_id":  groupID.String(),
		"new_owner": newOwnerID.String(),
	})
	return nil
}

func (s *MembershipService) requireGroup(ctx context.Context, groupID uuid.UUID) error {
	var group models.Group
	if err := s.DB.WithContext(ctx).Select("id").First(&group, "id = ?", groupID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(KindNotFound, "group not found")
		}
		return newError(KindInternal, "failed loading group")
	}
	return nil
}

func generateInviteCode(length int) (string, error) {
	code := make([]byte, length)
	alphabetSize := big.NewInt(int64(len(inviteCodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		code[i] = inviteCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}
