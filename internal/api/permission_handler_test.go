package api

import (
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/victorivanov/permd/internal/permissions"
	"github.com/victorivanov/permd/internal/service"
	"github.com/victorivanov/permd/internal/store"
)

func newTestPermissionHandler() *PermissionHandler {
	return NewPermissionHandler(newTestPermissionService())
}

func TestListPermissions(t *testing.T) {
	h := newTestPermissionHandler()

	c, rec := newTestContext(http.MethodGet, "/api/v1/permissions", nil)
	setAuthUser(c, "alice")

	if err := h.ListPermissions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var vocab []permissionInfo
	decodeData(t, rec, &vocab)
	if len(vocab) != permissions.All.Count() {
		t.Fatalf("expected %d permissions, got %d", permissions.All.Count(), len(vocab))
	}
	if vocab[0].Name != "ManageChannel" || vocab[0].Bit != 0 || vocab[0].Value != "1" {
		t.Errorf("first entry = %+v", vocab[0])
	}
	last := vocab[len(vocab)-1]
	if last.Name != "MoveMembers" || last.Bit != 35 || last.Value != "34359738368" {
		t.Errorf("last entry = %+v", last)
	}
}

func TestGetServerPermissions_Self(t *testing.T) {
	h := newTestPermissionHandler()

	c, rec := newTestContext(http.MethodGet, "/api/v1/servers/srv/members/@me/permissions", nil)
	c.SetParamNames("id", "user_id")
	c.SetParamValues("srv", "@me")
	setAuthUser(c, "alice")

	if err := h.GetServerPermissions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp resolvedResponse
	decodeData(t, rec, &resp)
	want := permissions.DefaultPermissions | permissions.PermManagePermissions | permissions.PermManageMessages
	if resp.Permissions.Value != strconv.FormatUint(uint64(want), 10) {
		t.Errorf("expected value %d, got %s", want, resp.Permissions.Value)
	}
	if len(resp.Permissions.Names) != want.Count() {
		t.Errorf("expected %d names, got %v", want.Count(), resp.Permissions.Names)
	}
	if resp.UserID != "alice" || resp.TargetID != "srv" || resp.Version != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestGetServerPermissions_NotMember(t *testing.T) {
	h := newTestPermissionHandler()

	c, rec := newTestContext(http.MethodGet, "/api/v1/servers/srv/members/bob/permissions", nil)
	c.SetParamNames("id", "user_id")
	c.SetParamValues("srv", "bob")
	setAuthUser(c, "mallory")

	if err := h.GetServerPermissions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeError(t, rec).Code; got != "NOT_A_MEMBER" {
		t.Errorf("expected code NOT_A_MEMBER, got %q", got)
	}
}

func TestGetServerPermissions_UnknownServer(t *testing.T) {
	h := newTestPermissionHandler()

	c, rec := newTestContext(http.MethodGet, "/api/v1/servers/nope/members/@me/permissions", nil)
	c.SetParamNames("id", "user_id")
	c.SetParamValues("nope", "@me")
	setAuthUser(c, "alice")

	if err := h.GetServerPermissions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetServerPermissions_MirrorNotReady(t *testing.T) {
	h := NewPermissionHandler(service.NewPermissionService(store.New(), nil))

	c, rec := newTestContext(http.MethodGet, "/api/v1/servers/srv/members/@me/permissions", nil)
	c.SetParamNames("id", "user_id")
	c.SetParamValues("srv", "@me")
	setAuthUser(c, "alice")

	if err := h.GetServerPermissions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestListServerChannelPermissions(t *testing.T) {
	h := newTestPermissionHandler()

	c, rec := newTestContext(http.MethodGet, "/api/v1/servers/srv/members/bob/channels", nil)
	c.SetParamNames("id", "user_id")
	c.SetParamValues("srv", "bob")
	setAuthUser(c, "alice")

	if err := h.ListServerChannelPermissions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Version  uint64             `json:"version"`
		Channels []resolvedResponse `json:"channels"`
	}
	decodeData(t, rec, &resp)
	if resp.Version != 1 || len(resp.Channels) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	general := resp.Channels[0]
	if general.TargetID != "general" || general.UserID != "bob" {
		t.Errorf("unexpected entry: %+v", general)
	}
	want := permissions.DefaultPermissions &^ permissions.PermSendMessage
	if general.Permissions.Value != strconv.FormatUint(uint64(want), 10) {
		t.Errorf("expected value %d, got %s", want, general.Permissions.Value)
	}
}

func TestGetChannelPermissions(t *testing.T) {
	h := newTestPermissionHandler()

	c, rec := newTestContext(http.MethodGet, "/api/v1/channels/general/permissions/bob", nil)
	c.SetParamNames("id", "user_id")
	c.SetParamValues("general", "bob")
	setAuthUser(c, "alice")

	if err := h.GetChannelPermissions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp resolvedResponse
	decodeData(t, rec, &resp)
	for _, name := range resp.Permissions.Names {
		if name == "SendMessage" {
			t.Errorf("bob should not be able to send in general: %v", resp.Permissions.Names)
		}
	}
	if resp.UserID != "bob" || resp.TargetID != "general" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestListRoles(t *testing.T) {
	h := newTestPermissionHandler()

	c, rec := newTestContext(http.MethodGet, "/api/v1/servers/srv/roles", nil)
	c.SetParamNames("id")
	c.SetParamValues("srv")
	setAuthUser(c, "bob")

	if err := h.ListRoles(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Version uint64         `json:"version"`
		Roles   []roleResponse `json:"roles"`
	}
	decodeData(t, rec, &resp)
	if len(resp.Roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(resp.Roles))
	}
	mod := resp.Roles[0]
	if mod.ID != "mod" || !mod.Hoist || mod.Colour == nil || *mod.Colour != "#00ff00" {
		t.Errorf("first role = %+v", mod)
	}
	wantAllow := permissions.PermManagePermissions | permissions.PermManageMessages
	if mod.Permissions.Allow.Value != strconv.FormatUint(uint64(wantAllow), 10) || mod.Permissions.Deny.Value != "0" {
		t.Errorf("mod permissions = %+v", mod.Permissions)
	}
	if resp.Roles[1].ID != "member" {
		t.Errorf("second role = %+v", resp.Roles[1])
	}
}

func TestListSections(t *testing.T) {
	h := newTestPermissionHandler()

	c, rec := newTestContext(http.MethodGet, "/api/v1/servers/srv/sections", nil)
	c.SetParamNames("id")
	c.SetParamValues("srv")
	setAuthUser(c, "owner")

	if err := h.ListSections(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Sections []sectionResponse `json:"sections"`
	}
	decodeData(t, rec, &resp)
	if len(resp.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %+v", resp.Sections)
	}
	if resp.Sections[0].RoleID != "mod" || resp.Sections[0].Name != "Mod" || len(resp.Sections[0].Members) != 1 {
		t.Errorf("hoisted section = %+v", resp.Sections[0])
	}
	rest := resp.Sections[1]
	if rest.RoleID != "" || len(rest.Members) != 2 || rest.Members[0] != "bob" || rest.Members[1] != "owner" {
		t.Errorf("unsectioned = %+v", rest)
	}
}

func TestPreviewRoleOverwrite(t *testing.T) {
	h := newTestPermissionHandler()

	body := `{"toggles":[{"permission":"ManageMessages","state":"allow"},{"permission":"react","state":"deny"}]}`
	c, rec := newTestContext(http.MethodPost, "/api/v1/servers/srv/roles/member/permissions/preview", strings.NewReader(body))
	c.SetParamNames("id", "role_id")
	c.SetParamValues("srv", "member")
	setAuthUser(c, "alice")

	if err := h.PreviewRoleOverwrite(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp previewResponse
	decodeData(t, rec, &resp)
	if resp.Before.Allow.Value != "0" || resp.Before.Deny.Value != "0" {
		t.Errorf("before = %+v", resp.Before)
	}
	if resp.After.Allow.Value != strconv.FormatUint(uint64(permissions.PermManageMessages), 10) {
		t.Errorf("after allow = %+v", resp.After.Allow)
	}
	if resp.After.Deny.Value != strconv.FormatUint(uint64(permissions.PermReact), 10) {
		t.Errorf("after deny = %+v", resp.After.Deny)
	}
}

func TestPreviewRoleOverwrite_HierarchyViolation(t *testing.T) {
	h := newTestPermissionHandler()

	body := `{"toggles":[{"permission":"ManageMessages","state":"deny"}]}`
	c, rec := newTestContext(http.MethodPost, "/api/v1/servers/srv/roles/mod/permissions/preview", strings.NewReader(body))
	c.SetParamNames("id", "role_id")
	c.SetParamValues("srv", "mod")
	setAuthUser(c, "alice")

	if err := h.PreviewRoleOverwrite(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeError(t, rec).Code; got != "ROLE_HIERARCHY" {
		t.Errorf("expected code ROLE_HIERARCHY, got %q", got)
	}
}

func TestPreviewRoleOverwrite_UnknownPermission(t *testing.T) {
	h := newTestPermissionHandler()

	body := `{"toggles":[{"permission":"Fly","state":"allow"}]}`
	c, rec := newTestContext(http.MethodPost, "/api/v1/servers/srv/roles/member/permissions/preview", strings.NewReader(body))
	c.SetParamNames("id", "role_id")
	c.SetParamValues("srv", "member")
	setAuthUser(c, "owner")

	if err := h.PreviewRoleOverwrite(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeError(t, rec).Code; got != "INVALID_TOGGLE" {
		t.Errorf("expected code INVALID_TOGGLE, got %q", got)
	}
}

func TestPreviewRoleOverwrite_InvalidState(t *testing.T) {
	h := newTestPermissionHandler()

	body := `{"toggles":[{"permission":"React","state":"maybe"}]}`
	c, rec := newTestContext(http.MethodPost, "/api/v1/servers/srv/roles/member/permissions/preview", strings.NewReader(body))
	c.SetParamNames("id", "role_id")
	c.SetParamValues("srv", "member")
	setAuthUser(c, "owner")

	if err := h.PreviewRoleOverwrite(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPreviewChannelOverwrite_Default(t *testing.T) {
	h := newTestPermissionHandler()

	body := `{"toggles":[{"permission":"SendMessage","state":"inherit"},{"permission":"UploadFiles","state":"deny"}]}`
	c, rec := newTestContext(http.MethodPost, "/api/v1/channels/general/permissions/default/preview", strings.NewReader(body))
	c.SetParamNames("id", "role_id")
	c.SetParamValues("general", "default")
	setAuthUser(c, "alice")

	if err := h.PreviewChannelOverwrite(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp previewResponse
	decodeData(t, rec, &resp)
	if resp.TargetID != "default" {
		t.Errorf("target = %q", resp.TargetID)
	}
	if resp.Before.Deny.Value != strconv.FormatUint(uint64(permissions.PermSendMessage), 10) {
		t.Errorf("before = %+v", resp.Before)
	}
	if resp.After.Deny.Value != strconv.FormatUint(uint64(permissions.PermUploadFiles), 10) || resp.After.Allow.Value != "0" {
		t.Errorf("after = %+v", resp.After)
	}
}

func TestPreviewChannelOverwrite_MissingPermission(t *testing.T) {
	h := newTestPermissionHandler()

	body := `{"toggles":[{"permission":"SendMessage","state":"allow"}]}`
	c, rec := newTestContext(http.MethodPost, "/api/v1/channels/general/permissions/member/preview", strings.NewReader(body))
	c.SetParamNames("id", "role_id")
	c.SetParamValues("general", "member")
	setAuthUser(c, "bob")

	if err := h.PreviewChannelOverwrite(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}
