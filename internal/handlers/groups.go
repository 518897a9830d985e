package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/snapvault/backend/internal/middleware"
	"github.com/snapvault/backend/internal/models"
	"github.com/snapvault/backend/internal/services"
	"github.com/snapvault/backend/pkg/utils"
)

type GroupsHandler struct {
	Members *services.MembershipService
}

func NewGroupsHandler(members *services.MembershipService) *GroupsHandler {
	return &GroupsHandler{Members: members}
}

type createGroupRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

func (h *GroupsHandler) Create(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	group, err := h.Members.CreateGroup(c.Context(), currentUser.ID, req.Name, req.Description)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusCreated, group)
}

type joinGroupRequest struct {
	InviteCode string `json:"inviteCode"`
}

func (h *GroupsHandler) Join(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req joinGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	membership, err := h.Members.JoinGroup(c.Context(), currentUser.ID, req.InviteCode)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusCreated, fiber.Map{
		"group": membership.Group,
		"role":  membership.Role,
	})
}

func (h *GroupsHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groups, err := h.Members.ListGroups(c.Context(), currentUser.ID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, groups)
}

func (h *GroupsHandler) Get(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	group, err := h.Members.GetGroup(c.Context(), currentUser.ID, groupID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, group)
}

func (h *GroupsHandler) ListMembers(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	memberships, err := h.Members.ListMembers(c.Context(), currentUser.ID, groupID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, memberships)
}

type updateGroupRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (h *GroupsHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	var req updateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	group, err := h.Members.UpdateGroup(c.Context(), currentUser.ID, groupID, req.Name, req.Description)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, group)
}

func (h *GroupsHandler) Leave(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	if err := h.Members.LeaveGroup(c.Context(), currentUser.ID, groupID); err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "left group"})
}

func (h *GroupsHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	if err := h.Members.DeleteGroup(c.Context(), currentUser.ID, groupID); err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "group deleted"})
}

type updateMemberRoleRequest struct {
	Role models.GroupRole `json:"role"`
}

func (h *GroupsHandler) UpdateMemberRole(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}
	userID, err := parseUUID(c.Params("userId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	var req updateMemberRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	membership, err := h.Members.UpdateMemberRole(c.Context(), currentUser.ID, groupID, userID, req.Role)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, membership)
}

func (h *GroupsHandler) RemoveMember(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}
	userID, err := parseUUID(c.Params("userId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	if err := h.Members.RemoveMember(c.Context(), currentUser.ID, groupID, userID); err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "member removed"})
}

type transferOwnershipRequest struct {
	NewOwnerID uuid.UUID `json:"newOwnerID"`
}

func (h *GroupsHandler) TransferOwnership(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	groupID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid group id")
	}

	var req transferOwnershipRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.NewOwnerID == uuid.Nil {
		return utils.Error(c, fiber.StatusBadRequest, "newOwnerID is required")
	}

	if err := h.Members.TransferOwnership(c.Context(), currentUser.ID, groupID, req.NewOwnerID); err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "ownership transferred"})
}
