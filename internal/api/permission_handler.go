package api

import (
	"math/bits"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/victorivanov/permd/internal/auth"
	"github.com/victorivanov/permd/internal/permissions"
	"github.com/victorivanov/permd/internal/service"
)

// PermissionHandler serves permission queries and overwrite previews.
type PermissionHandler struct {
	service *service.PermissionService
}

// NewPermissionHandler creates a PermissionHandler.
func NewPermissionHandler(svc *service.PermissionService) *PermissionHandler {
	return &PermissionHandler{service: svc}
}

// permissionJSON carries the value as a decimal string; JSON numbers lose
// precision above 2^53.
type permissionJSON struct {
	Value string   `json:"value"`
	Names []string `json:"names"`
}

func toPermissionJSON(p permissions.Permission) permissionJSON {
	return permissionJSON{Value: strconv.FormatUint(uint64(p), 10), Names: p.Names()}
}

type overwriteJSON struct {
	Allow permissionJSON `json:"allow"`
	Deny  permissionJSON `json:"deny"`
}

func toOverwriteJSON(o permissions.Overwrite) overwriteJSON {
	return overwriteJSON{Allow: toPermissionJSON(o.Allow), Deny: toPermissionJSON(o.Deny)}
}

type resolvedResponse struct {
	UserID      string         `json:"user_id"`
	TargetID    string         `json:"target_id"`
	Permissions permissionJSON `json:"permissions"`
	Version     uint64         `json:"version"`
	Cached      bool           `json:"cached"`
}

func toResolvedResponse(r *service.Resolved) resolvedResponse {
	return resolvedResponse{
		UserID:      r.UserID,
		TargetID:    r.TargetID,
		Permissions: toPermissionJSON(r.Permissions),
		Version:     r.Version,
		Cached:      r.Cached,
	}
}

type permissionInfo struct {
	Name  string `json:"name"`
	Bit   int    `json:"bit"`
	Value string `json:"value"`
}

// ListPermissions handles GET /api/v1/permissions.
func (h *PermissionHandler) ListPermissions(c echo.Context) error {
	out := make([]permissionInfo, 0, permissions.All.Count())
	for p := range permissions.All.Bits() {
		out = append(out, permissionInfo{
			Name:  p.Name(),
			Bit:   bits.TrailingZeros64(uint64(p)),
			Value: strconv.FormatUint(uint64(p), 10),
		})
	}
	return successJSON(c, http.StatusOK, out)
}

// GetServerPermissions handles GET /api/v1/servers/:id/members/:user_id/permissions.
func (h *PermissionHandler) GetServerPermissions(c echo.Context) error {
	res, err := h.service.ServerPermissions(c.Request().Context(), auth.GetUserID(c), c.Param("id"), c.Param("user_id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return successJSON(c, http.StatusOK, toResolvedResponse(res))
}

// GetChannelPermissions handles GET /api/v1/channels/:id/permissions/:user_id.
func (h *PermissionHandler) GetChannelPermissions(c echo.Context) error {
	res, err := h.service.ChannelPermissions(c.Request().Context(), auth.GetUserID(c), c.Param("id"), c.Param("user_id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return successJSON(c, http.StatusOK, toResolvedResponse(res))
}

// ListServerChannelPermissions handles GET /api/v1/servers/:id/members/:user_id/channels.
func (h *PermissionHandler) ListServerChannelPermissions(c echo.Context) error {
	res, version, err := h.service.ServerChannelPermissions(c.Request().Context(), auth.GetUserID(c), c.Param("id"), c.Param("user_id"))
	if err != nil {
		return mapServiceError(c, err)
	}

	out := make([]resolvedResponse, 0, len(res))
	for i := range res {
		out = append(out, toResolvedResponse(&res[i]))
	}
	return successJSON(c, http.StatusOK, map[string]any{"version": version, "channels": out})
}

type roleResponse struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Rank        int64         `json:"rank"`
	Hoist       bool          `json:"hoist"`
	Colour      *string       `json:"colour,omitempty"`
	Permissions overwriteJSON `json:"permissions"`
}

// ListRoles handles GET /api/v1/servers/:id/roles.
func (h *PermissionHandler) ListRoles(c echo.Context) error {
	roles, version, err := h.service.RankedRoles(c.Request().Context(), auth.GetUserID(c), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}

	out := make([]roleResponse, 0, len(roles))
	for _, r := range roles {
		out = append(out, roleResponse{
			ID:          r.ID,
			Name:        r.Role.Name,
			Rank:        r.Role.Rank,
			Hoist:       r.Role.IsHoisted(),
			Colour:      r.Role.Colour,
			Permissions: toOverwriteJSON(permissions.OverwriteFromModel(r.Role.Permissions)),
		})
	}
	return successJSON(c, http.StatusOK, map[string]any{"version": version, "roles": out})
}

type sectionResponse struct {
	RoleID  string   `json:"role_id,omitempty"`
	Name    string   `json:"name,omitempty"`
	Colour  *string  `json:"colour,omitempty"`
	Members []string `json:"members"`
}

// ListSections handles GET /api/v1/servers/:id/sections.
func (h *PermissionHandler) ListSections(c echo.Context) error {
	sections, version, err := h.service.MemberSections(c.Request().Context(), auth.GetUserID(c), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}

	out := make([]sectionResponse, 0, len(sections))
	for _, s := range sections {
		resp := sectionResponse{RoleID: s.RoleID, Members: make([]string, 0, len(s.Members))}
		if s.Role != nil {
			resp.Name = s.Role.Name
			resp.Colour = s.Role.Colour
		}
		for _, m := range s.Members {
			resp.Members = append(resp.Members, m.ID.User)
		}
		out = append(out, resp)
	}
	return successJSON(c, http.StatusOK, map[string]any{"version": version, "sections": out})
}

type toggleRequest struct {
	Permission string                     `json:"permission"`
	State      permissions.OverwriteState `json:"state"`
}

type previewRequest struct {
	Toggles []toggleRequest `json:"toggles"`
}

type previewResponse struct {
	TargetID string        `json:"target_id"`
	Before   overwriteJSON `json:"before"`
	After    overwriteJSON `json:"after"`
	Version  uint64        `json:"version"`
}

// toggles converts the request; bad names the first unknown permission.
func (r previewRequest) toggles() (toggles []permissions.Toggle, bad string) {
	toggles = make([]permissions.Toggle, 0, len(r.Toggles))
	for _, t := range r.Toggles {
		perm, ok := permissions.ParsePermission(t.Permission)
		if !ok {
			return nil, strconv.Quote(t.Permission)
		}
		toggles = append(toggles, permissions.Toggle{Permission: perm, State: t.State})
	}
	return toggles, ""
}

func previewJSON(c echo.Context, p *service.OverwritePreview) error {
	return successJSON(c, http.StatusOK, previewResponse{
		TargetID: p.TargetID,
		Before:   toOverwriteJSON(p.Before),
		After:    toOverwriteJSON(p.After),
		Version:  p.Version,
	})
}

// PreviewRoleOverwrite handles POST /api/v1/servers/:id/roles/:role_id/permissions/preview.
func (h *PermissionHandler) PreviewRoleOverwrite(c echo.Context) error {
	var req previewRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}
	toggles, bad := req.toggles()
	if bad != "" {
		return errorJSON(c, http.StatusBadRequest, "INVALID_TOGGLE", "unknown permission: "+bad)
	}

	preview, err := h.service.PreviewRoleOverwrite(c.Request().Context(), auth.GetUserID(c), c.Param("id"), c.Param("role_id"), toggles)
	if err != nil {
		return mapServiceError(c, err)
	}
	return previewJSON(c, preview)
}

// PreviewChannelOverwrite handles POST /api/v1/channels/:id/permissions/:role_id/preview.
func (h *PermissionHandler) PreviewChannelOverwrite(c echo.Context) error {
	var req previewRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}
	toggles, bad := req.toggles()
	if bad != "" {
		return errorJSON(c, http.StatusBadRequest, "INVALID_TOGGLE", "unknown permission: "+bad)
	}

	preview, err := h.service.PreviewChannelOverwrite(c.Request().Context(), auth.GetUserID(c), c.Param("id"), c.Param("role_id"), toggles)
	if err != nil {
		return mapServiceError(c, err)
	}
	return previewJSON(c, preview)
}
