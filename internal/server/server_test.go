package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/internal/model"
	"github.com/kilnhq/kiln/internal/server"
	"github.com/kilnhq/kiln/internal/storage/memory"
)

// fakeInstaller records enqueued requests, the first one is reported as active.
type fakeInstaller struct {
	mu    sync.Mutex
	queue []model.InstallRequest
	next  int
}

func (f *fakeInstaller) RequestInstall(_ context.Context, req model.InstallRequest) (model.InstallRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.RequestUUID == "" {
		f.next++
		req.RequestUUID = fmt.Sprintf("req-%d", f.next)
	}
	if err := req.Validate(); err != nil {
		return model.InstallRequest{}, fmt.Errorf("invalid install request: %w", err)
	}
	f.queue = append(f.queue, req)
	return req, nil
}

func (f *fakeInstaller) Queue() []model.InstallRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) <= 1 {
		return nil
	}
	return append([]model.InstallRequest{}, f.queue[1:]...)
}

func (f *fakeInstaller) Status() (*model.InstallStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, false
	}
	return &model.InstallStatus{Request: f.queue[0], Phase: model.InstallPhaseInstalling, StageLabel: "Downloading", Percent: "40"}, true
}

type testEnv struct {
	installer *fakeInstaller
	repo      *memory.Repository
	handler   http.Handler
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)
	installer := &fakeInstaller{}
	router, err := server.NewRouter(server.RouterConfig{
		Installer: installer,
		Instances: repo,
		History:   repo,
	})
	require.NoError(t, err)

	return testEnv{installer: installer, repo: repo, handler: router.Handler()}
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewRouter(t *testing.T) {
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	tests := map[string]struct {
		cfg    server.RouterConfig
		expErr bool
	}{
		"A complete config should be valid.": {
			cfg: server.RouterConfig{Installer: &fakeInstaller{}, Instances: repo, History: repo},
		},
		"A missing installer should fail.": {
			cfg:    server.RouterConfig{Instances: repo, History: repo},
			expErr: true,
		},
		"A missing history repository should fail.": {
			cfg:    server.RouterConfig{Installer: &fakeInstaller{}, Instances: repo},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := server.NewRouter(test.cfg)
			if test.expErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRouterRequestInstall(t *testing.T) {
	tests := map[string]struct {
		body    any
		expCode int
		expUUID string
	}{
		"A valid request should be queued.": {
			body:    server.InstallRequestJSON{PackageID: 42, VersionID: 7, DisplayName: "Survival"},
			expCode: http.StatusAccepted,
			expUUID: "req-1",
		},
		"A request with its own UUID should keep it.": {
			body:    server.InstallRequestJSON{RequestUUID: "mine", PackageID: 42, VersionID: 7},
			expCode: http.StatusAccepted,
			expUUID: "mine",
		},
		"An invalid request should be a bad request.": {
			body:    server.InstallRequestJSON{PackageID: 0, VersionID: 7},
			expCode: http.StatusBadRequest,
		},
		"A body that is not JSON should be a bad request.": {
			body:    "not an object",
			expCode: http.StatusBadRequest,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			env := newTestEnv(t)
			rec := doReq(t, env.handler, http.MethodPost, "/v1/installs", test.body)
			require.Equal(test.expCode, rec.Code, rec.Body.String())
			if test.expCode != http.StatusAccepted {
				assert.Empty(env.installer.queue)
				return
			}

			var got server.InstallRequestJSON
			require.NoError(json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(test.expUUID, got.RequestUUID)
			require.Len(env.installer.queue, 1)
			assert.Equal(int64(42), env.installer.queue[0].PackageID)
		})
	}
}

func TestRouterInstalls(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	env := newTestEnv(t)

	rec := doReq(t, env.handler, http.MethodGet, "/v1/installs", nil)
	require.Equal(http.StatusOK, rec.Code)
	assert.JSONEq(`{"status":null,"queue":[]}`, rec.Body.String())

	for _, id := range []string{"a", "b", "c"} {
		_, err := env.installer.RequestInstall(context.Background(), model.InstallRequest{RequestUUID: id, PackageID: 1, VersionID: 1})
		require.NoError(err)
	}

	rec = doReq(t, env.handler, http.MethodGet, "/v1/installs", nil)
	require.Equal(http.StatusOK, rec.Code)
	var got server.InstallsJSON
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(got.Status)
	assert.Equal("a", got.Status.Request.RequestUUID)
	assert.Equal("installing", got.Status.Phase)
	assert.Equal("40", got.Status.Percent)
	require.Len(got.Queue, 2)
	assert.Equal("b", got.Queue[0].RequestUUID)
	assert.Equal("c", got.Queue[1].RequestUUID)
}

func TestRouterInstancesAndHistory(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(env.repo.CreateInstance(ctx, model.Instance{ID: "1001", Name: "Survival", PackageID: 42, VersionID: 7, InstalledAt: now}))
	for i, phase := range []model.InstallPhase{model.InstallPhaseSucceeded, model.InstallPhaseFailed} {
		require.NoError(env.repo.RecordInstallOutcome(ctx, model.InstallOutcome{
			Request:    model.InstallRequest{RequestUUID: fmt.Sprintf("r%d", i), PackageID: 42, VersionID: 7},
			Phase:      phase,
			StartedAt:  now.Add(time.Duration(i) * time.Minute),
			FinishedAt: now.Add(time.Duration(i)*time.Minute + time.Second),
		}))
	}

	rec := doReq(t, env.handler, http.MethodGet, "/v1/instances", nil)
	require.Equal(http.StatusOK, rec.Code)
	var instances []server.InstanceJSON
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &instances))
	require.Len(instances, 1)
	assert.Equal("Survival", instances[0].Name)

	rec = doReq(t, env.handler, http.MethodGet, "/v1/history?limit=1", nil)
	require.Equal(http.StatusOK, rec.Code)
	var outcomes []server.OutcomeJSON
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &outcomes))
	require.Len(outcomes, 1)

	rec = doReq(t, env.handler, http.MethodGet, "/v1/history?limit=-1", nil)
	assert.Equal(http.StatusBadRequest, rec.Code)
}

func TestClient(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	client, err := server.NewClient(server.ClientConfig{Address: srv.URL})
	require.NoError(err)
	ctx := context.Background()

	req, err := client.RequestInstall(ctx, model.InstallRequest{PackageID: 42, VersionID: 7, UpdatingTargetID: "1001"})
	require.NoError(err)
	assert.Equal("req-1", req.RequestUUID)
	assert.Equal("1001", req.UpdatingTargetID)

	_, err = client.RequestInstall(ctx, model.InstallRequest{PackageID: -1, VersionID: 7})
	assert.ErrorIs(err, model.ErrNotValid)

	status, queue, err := client.Installs(ctx)
	require.NoError(err)
	require.NotNil(status)
	assert.Equal("req-1", status.Request.RequestUUID)
	assert.Equal(model.InstallPhaseInstalling, status.Phase)
	assert.Empty(queue)

	require.NoError(env.repo.RecordInstallOutcome(ctx, model.InstallOutcome{
		Request: req,
		Phase:   model.InstallPhaseRejected,
		Error:   "install rejected: prepare_error",
	}))
	outcomes, err := client.History(ctx, 0)
	require.NoError(err)
	require.Len(outcomes, 1)
	assert.Equal(model.InstallPhaseRejected, outcomes[0].Phase)
	assert.Equal("req-1", outcomes[0].Request.RequestUUID)
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()

	client, err := server.NewClient(server.ClientConfig{Address: addr})
	require.NoError(t, err)

	_, err = client.RequestInstall(context.Background(), model.InstallRequest{PackageID: 1, VersionID: 1})
	assert.ErrorIs(t, err, server.ErrUnreachable)
}
