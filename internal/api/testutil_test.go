package api

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/victorivanov/permd/internal/models"
	"github.com/victorivanov/permd/internal/permissions"
	redisclient "github.com/victorivanov/permd/internal/redis"
	"github.com/victorivanov/permd/internal/service"
	"github.com/victorivanov/permd/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func newTestContext(method, path string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

func setAuthUser(c echo.Context, userID string) {
	c.Set("user_id", userID)
}

func newTestRedis(t *testing.T) *redisclient.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := redisclient.NewClient("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("creating test redis client: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

// decodeData unmarshals the "data" member of a success envelope into v.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode envelope: %v: %s", err, rec.Body.String())
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("failed to decode data: %v: %s", err, rec.Body.String())
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var errResp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return errResp.Error
}

// ---------------------------------------------------------------------------
// Mirror fixture
// ---------------------------------------------------------------------------

type staticSnapshots struct{ snap *store.Snapshot }

func (s staticSnapshots) Snapshot() *store.Snapshot { return s.snap }

// testMirror holds one server owned by "owner" where "alice" is a hoisted
// moderator, "bob" a plain member, and "general" hides SendMessage from
// everyone but moderators.
func testMirror() *store.Snapshot {
	hoist := true
	colour := "#00ff00"
	return store.FromReady(store.Ready{
		Users: []models.User{{ID: "owner"}, {ID: "alice"}, {ID: "bob"}},
		Servers: []models.Server{{
			ID:                 "srv",
			Owner:              "owner",
			Channels:           []string{"general"},
			DefaultPermissions: int64(permissions.DefaultPermissions),
			Roles: map[string]models.Role{
				"mod": {Name: "Mod", Rank: 1, Hoist: &hoist, Colour: &colour, Permissions: models.Overwrite{
					Allow: int64(permissions.PermManagePermissions | permissions.PermManageMessages),
				}},
				"member": {Name: "Member", Rank: 5},
			},
		}},
		Channels: []models.Channel{{
			Type:               models.ChannelTypeText,
			ID:                 "general",
			Server:             "srv",
			DefaultPermissions: &models.Overwrite{Deny: int64(permissions.PermSendMessage)},
			RolePermissions:    map[string]models.Overwrite{"mod": {Allow: int64(permissions.PermSendMessage)}},
		}},
		Members: []models.Member{
			{ID: models.MemberID{Server: "srv", User: "owner"}},
			{ID: models.MemberID{Server: "srv", User: "alice"}, Roles: []string{"mod"}},
			{ID: models.MemberID{Server: "srv", User: "bob"}, Roles: []string{"member"}},
		},
	})
}

func newTestPermissionService() *service.PermissionService {
	return service.NewPermissionService(staticSnapshots{testMirror()}, nil)
}
