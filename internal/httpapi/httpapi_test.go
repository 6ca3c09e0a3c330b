package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/apikey"
	"github.com/ovmeet/control-plane/internal/auth"
	"github.com/ovmeet/control-plane/internal/bus"
	"github.com/ovmeet/control-plane/internal/globalconfig"
	"github.com/ovmeet/control-plane/internal/lock"
	"github.com/ovmeet/control-plane/internal/mediaserver"
	"github.com/ovmeet/control-plane/internal/nameres"
	"github.com/ovmeet/control-plane/internal/persistence"
	"github.com/ovmeet/control-plane/internal/recording"
	"github.com/ovmeet/control-plane/internal/room"
	"github.com/ovmeet/control-plane/internal/store"
	"github.com/ovmeet/control-plane/internal/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- minimal in-memory repositories, local to this test file ---

type fakeRoomRepo struct {
	mu    sync.Mutex
	rooms map[string]*persistence.Room
}

func newFakeRoomRepo() *fakeRoomRepo { return &fakeRoomRepo{rooms: make(map[string]*persistence.Room)} }

func (f *fakeRoomRepo) Create(_ context.Context, rm *persistence.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rm
	f.rooms[rm.RoomID] = &cp
	return nil
}
func (f *fakeRoomRepo) Get(_ context.Context, roomID string) (*persistence.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rm, ok := f.rooms[roomID]
	if !ok {
		return nil, apierror.New(apierror.NotFound, "no such room")
	}
	cp := *rm
	return &cp, nil
}
func (f *fakeRoomRepo) Update(_ context.Context, rm *persistence.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rm
	f.rooms[rm.RoomID] = &cp
	return nil
}
func (f *fakeRoomRepo) Delete(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, roomID)
	return nil
}
func (f *fakeRoomRepo) List(context.Context, string, int) (persistence.Page[*persistence.Room], error) {
	return persistence.Page[*persistence.Room]{}, nil
}
func (f *fakeRoomRepo) ListExpiring(context.Context, int64, int) ([]*persistence.Room, error) {
	return nil, nil
}

type fakeRecordingRepo struct{}

func (f *fakeRecordingRepo) Create(context.Context, *persistence.Recording) error { return nil }
func (f *fakeRecordingRepo) Get(context.Context, string) (*persistence.Recording, error) {
	return nil, apierror.New(apierror.NotFound, "no such recording")
}
func (f *fakeRecordingRepo) Update(context.Context, *persistence.Recording) error { return nil }
func (f *fakeRecordingRepo) Delete(context.Context, string) error                 { return nil }
func (f *fakeRecordingRepo) List(context.Context, string, int) (persistence.Page[*persistence.Recording], error) {
	return persistence.Page[*persistence.Recording]{}, nil
}
func (f *fakeRecordingRepo) ListNonTerminalOlderThan(context.Context, int64, int) ([]*persistence.Recording, error) {
	return nil, nil
}
func (f *fakeRecordingRepo) ListByRoom(context.Context, string) ([]*persistence.Recording, error) {
	return nil, nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	byID  map[string]*persistence.User
	byName map[string]*persistence.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: make(map[string]*persistence.User), byName: make(map[string]*persistence.User)}
}
func (f *fakeUserRepo) Create(_ context.Context, u *persistence.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *u
	f.byID[u.UserID] = &cp
	f.byName[u.Name] = &cp
	return nil
}
func (f *fakeUserRepo) Get(_ context.Context, userID string) (*persistence.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return nil, apierror.New(apierror.NotFound, "no such user")
	}
	cp := *u
	return &cp, nil
}
func (f *fakeUserRepo) GetByName(_ context.Context, name string) (*persistence.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byName[name]
	if !ok {
		return nil, apierror.New(apierror.NotFound, "no such user")
	}
	cp := *u
	return &cp, nil
}
func (f *fakeUserRepo) Update(_ context.Context, u *persistence.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *u
	f.byID[u.UserID] = &cp
	f.byName[u.Name] = &cp
	return nil
}
func (f *fakeUserRepo) Delete(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, userID)
	return nil
}

type fakeAPIKeyRepo struct {
	mu   sync.Mutex
	keys map[string]*persistence.APIKey
}

func newFakeAPIKeyRepo() *fakeAPIKeyRepo {
	return &fakeAPIKeyRepo{keys: make(map[string]*persistence.APIKey)}
}
func (f *fakeAPIKeyRepo) Create(_ context.Context, k *persistence.APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *k
	f.keys[k.KeyID] = &cp
	return nil
}
func (f *fakeAPIKeyRepo) Get(_ context.Context, keyID string) (*persistence.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[keyID]
	if !ok {
		return nil, apierror.New(apierror.NotFound, "no such key")
	}
	cp := *k
	return &cp, nil
}
func (f *fakeAPIKeyRepo) ListActive(_ context.Context) ([]*persistence.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*persistence.APIKey
	for _, k := range f.keys {
		if k.Active {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}
func (f *fakeAPIKeyRepo) Revoke(_ context.Context, keyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if k, ok := f.keys[keyID]; ok {
		k.Active = false
	}
	return nil
}

type fakeGlobalConfigRepo struct {
	mu  sync.Mutex
	cfg *persistence.GlobalConfig
}

func (f *fakeGlobalConfigRepo) Get(context.Context) (*persistence.GlobalConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cfg == nil {
		return &persistence.GlobalConfig{SchemaVersion: 1}, nil
	}
	cp := *f.cfg
	return &cp, nil
}
func (f *fakeGlobalConfigRepo) Put(_ context.Context, cfg *persistence.GlobalConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *cfg
	f.cfg = &cp
	return nil
}

// testEnv bundles a fully wired router plus the admin credentials used to
// exercise its protected routes.
type testEnv struct {
	router       *gin.Engine
	adminName    string
	adminPass    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cli, err := store.New(store.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })

	mutex := lock.New(cli)
	b := bus.New(cli, "test-replica")
	t.Cleanup(b.Close)

	media := mediaserver.New(mediaserver.Options{
		URL:                        "http://127.0.0.1:1",
		APIKey:                     "test-key",
		APISecret:                  "test-secret-needs-32-bytes-min!",
		ParticipantTokenExpiration: time.Hour,
	})

	rooms := room.New(newFakeRoomRepo(), &fakeRecordingRepo{}, mutex, b, media, room.Options{
		EmptyTimeout:     time.Minute,
		DepartureTimeout: time.Minute,
	})
	recordings := recording.New(&fakeRecordingRepo{}, mutex, b, recording.Options{
		LockTTL:                 time.Minute,
		StartedTimeout:          time.Hour,
		StaleAfter:              time.Hour,
		OrphanedLockGracePeriod: time.Minute,
	})
	names := nameres.New(cli, mutex, nameres.Options{})
	configs := globalconfig.New(&fakeGlobalConfigRepo{})
	userRepo := newFakeUserRepo()
	users := user.New(userRepo)
	apiKeys := apikey.New(newFakeAPIKeyRepo())
	issuer := auth.NewIssuer("test-signing-secret", 15*time.Minute, 24*time.Hour)

	adminName, adminPass := "admin", "correct horse battery"
	_, err = users.Create(context.Background(), user.CreateParams{
		Name: adminName, Password: adminPass, Role: persistence.RoleAdmin,
	})
	require.NoError(t, err)

	deps := Deps{
		Rooms:      rooms,
		Recordings: recordings,
		Names:      names,
		Configs:    configs,
		Users:      users,
		APIKeys:    apiKeys,
		Media:      media,
		Issuer:     issuer,
		Store:      cli,
	}

	return &testEnv{
		router:    NewRouter(deps, []string{"https://allowed.example"}),
		adminName: adminName,
		adminPass: adminPass,
	}
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Name: e.adminName, Password: e.adminPass})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp loginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken
}

func TestHealthLiveReturnsOK(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthReadyReportsHealthyStore(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflightAcknowledgesAllowedOrigin(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/rooms", nil)
	req.Header.Set("Origin", "https://allowed.example")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://allowed.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestProtectedRouteRejectsMissingBearerToken(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/rooms", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginThenCreateAndFetchRoom(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	createBody, _ := json.Marshal(createRoomRequest{RoomName: "weekly sync"})
	createReq := httptest.NewRequest(http.MethodPost, "/rooms", bytes.NewReader(createBody))
	createReq.Header.Set("Authorization", "Bearer "+token)
	createReq.Header.Set("Content-Type", "application/json")
	createW := httptest.NewRecorder()
	env.router.ServeHTTP(createW, createReq)
	require.Equal(t, http.StatusCreated, createW.Code, createW.Body.String())

	var created persistence.Room
	require.NoError(t, json.Unmarshal(createW.Body.Bytes(), &created))
	assert.Equal(t, "weekly sync", created.RoomName)
	assert.Equal(t, persistence.RoomOpen, created.Status)

	getReq := httptest.NewRequest(http.MethodGet, "/rooms/"+created.RoomID, nil)
	getReq.Header.Set("Authorization", "Bearer "+token)
	getW := httptest.NewRecorder()
	env.router.ServeHTTP(getW, getReq)
	assert.Equal(t, http.StatusOK, getW.Code)
}

func TestAdminRouteCreatesAPIKey(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	req := httptest.NewRequest(http.MethodPost, "/api-keys", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp apiKeyCredentialResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Plaintext)
}
