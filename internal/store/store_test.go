package store

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fotad.sh/internal/ferrors"
	"fotad.sh/internal/migrations"
	"fotad.sh/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, _, err = migrations.MigrateUp(db)
	require.NoError(t, err)

	return New(db)
}

func strPtr(s string) *string {
	return &s
}

func seedRouter(t *testing.T, s *Store, name, ip string) *models.Router {
	t.Helper()
	r := &models.Router{DeviceName: name, IPAddress: ip}
	require.NoError(t, s.CreateRouter(context.Background(), r))
	return r
}

func TestCreateAndGetRouter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	router := &models.Router{
		DeviceName: "branch-office-1",
		IPAddress:  "10.0.0.1",
		Username:   strPtr("admin"),
		Password:   strPtr("secret"),
	}
	require.NoError(t, s.CreateRouter(ctx, router))
	require.NotEmpty(t, router.ID)

	got, err := s.GetRouter(ctx, router.ID)
	require.NoError(t, err)
	assert.Equal(t, "branch-office-1", got.DeviceName)
	assert.Equal(t, "10.0.0.1", got.IPAddress)
	require.NotNil(t, got.Username)
	assert.Equal(t, "admin", *got.Username)
	assert.Equal(t, models.RouterStatusUnknown, got.Status)
	assert.Nil(t, got.CurrentFirmware)
	assert.Nil(t, got.LastCheck)
}

func TestGetRouterNotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetRouter(context.Background(), "missing")
	assert.Equal(t, ferrors.ErrCodeNotFound, ferrors.GetCode(err))
}

func TestCreateRouterDuplicateIP(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	seedRouter(t, s, "first", "10.0.0.1")

	err := s.CreateRouter(ctx, &models.Router{DeviceName: "second", IPAddress: "10.0.0.1"})
	assert.Equal(t, ferrors.ErrCodeConflict, ferrors.GetCode(err))
}

func TestCreateRouterValidation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		router models.Router
	}{
		{"missing name", models.Router{IPAddress: "10.0.0.1"}},
		{"missing ip", models.Router{DeviceName: "r1"}},
		{"not dotted quad", models.Router{DeviceName: "r1", IPAddress: "fe80::1"}},
		{"garbage ip", models.Router{DeviceName: "r1", IPAddress: "10.0.0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CreateRouter(ctx, &tt.router)
			assert.Equal(t, ferrors.ErrCodeValidation, ferrors.GetCode(err))
		})
	}
}

func TestImportRoutersIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	batch := []models.Router{
		{DeviceName: "r1", IPAddress: "10.0.0.1"},
		{DeviceName: "r2", IPAddress: "10.0.0.2", Username: strPtr("admin")},
		{DeviceName: "r3", IPAddress: "10.0.0.3"},
	}

	count, err := s.ImportRouters(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	first, err := s.ListRouters(ctx)
	require.NoError(t, err)
	require.Len(t, first, 3)

	// Re-importing the same file must not duplicate rows or change ids.
	count, err = s.ImportRouters(ctx, []models.Router{
		{DeviceName: "r1-renamed", IPAddress: "10.0.0.1"},
		{DeviceName: "r2", IPAddress: "10.0.0.2"},
		{DeviceName: "r3", IPAddress: "10.0.0.3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	second, err := s.ListRouters(ctx)
	require.NoError(t, err)
	require.Len(t, second, 3)

	firstIDs := map[string]bool{}
	for _, r := range first {
		firstIDs[r.ID] = true
	}
	for _, r := range second {
		assert.True(t, firstIDs[r.ID], "import must reuse the id of the row with the same ip")
	}
}

func TestImportRoutersPreservesDiscoveredState(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.ImportRouters(ctx, []models.Router{{DeviceName: "r1", IPAddress: "10.0.0.1"}})
	require.NoError(t, err)

	routers, err := s.ListRouters(ctx)
	require.NoError(t, err)
	id := routers[0].ID

	require.NoError(t, s.UpdateRouterFirmware(ctx, id,
		strPtr("RUT9_R_00.07.06.11"), strPtr("RUT9_R_00.07.06.20"),
		models.RouterStatusUpdateAvailable))

	_, err = s.ImportRouters(ctx, []models.Router{{DeviceName: "r1", IPAddress: "10.0.0.1"}})
	require.NoError(t, err)

	got, err := s.GetRouter(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentFirmware)
	assert.Equal(t, "RUT9_R_00.07.06.11", *got.CurrentFirmware)
	assert.Equal(t, models.RouterStatusUpdateAvailable, got.Status)
}

func TestImportRoutersRejectsInvalidRecord(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.ImportRouters(context.Background(), []models.Router{
		{DeviceName: "ok", IPAddress: "10.0.0.1"},
		{DeviceName: "", IPAddress: "10.0.0.2"},
	})
	assert.Equal(t, ferrors.ErrCodeValidation, ferrors.GetCode(err))

	routers, listErr := s.ListRouters(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, routers, "failed import must not leave partial rows")
}

func TestGetRoutersByStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := seedRouter(t, s, "a", "10.0.0.1")
	b := seedRouter(t, s, "b", "10.0.0.2")
	seedRouter(t, s, "c", "10.0.0.3")

	require.NoError(t, s.UpdateRouterStatus(ctx, a.ID, models.RouterStatusUpdateAvailable))
	require.NoError(t, s.UpdateRouterStatus(ctx, b.ID, models.RouterStatusError))

	got, err := s.GetRoutersByStatus(ctx, models.RouterStatusUpdateAvailable, models.RouterStatusError)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.GetRoutersByStatus(ctx, models.RouterStatusUnknown)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].DeviceName)
}

func TestGetRoutersByIDsPreservesOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := seedRouter(t, s, "a", "10.0.0.1")
	b := seedRouter(t, s, "b", "10.0.0.2")
	c := seedRouter(t, s, "c", "10.0.0.3")

	got, err := s.GetRoutersByIDs(ctx, []string{c.ID, "missing", a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, c.ID, got[0].ID)
	assert.Equal(t, a.ID, got[1].ID)
	assert.Equal(t, b.ID, got[2].ID)
}

func TestUpdateRouterFirmware(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := seedRouter(t, s, "r1", "10.0.0.1")

	err := s.UpdateRouterFirmware(ctx, r.ID,
		strPtr("RUT9_R_00.07.06.11"), strPtr("RUT9_R_00.07.06.20"),
		models.RouterStatusUpdateAvailable)
	require.NoError(t, err)

	got, err := s.GetRouter(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RouterStatusUpdateAvailable, got.Status)
	require.NotNil(t, got.AvailableFirmware)
	assert.Equal(t, "RUT9_R_00.07.06.20", *got.AvailableFirmware)
	assert.NotNil(t, got.LastCheck)

	// Clearing available firmware after a successful update.
	err = s.UpdateRouterFirmware(ctx, r.ID,
		strPtr("RUT9_R_00.07.06.20"), nil, models.RouterStatusUpToDate)
	require.NoError(t, err)

	got, err = s.GetRouter(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AvailableFirmware)
	assert.Equal(t, models.RouterStatusUpToDate, got.Status)
}

func TestUpdateRouterStatusNotFound(t *testing.T) {
	s := setupTestStore(t)

	err := s.UpdateRouterStatus(context.Background(), "missing", models.RouterStatusError)
	assert.Equal(t, ferrors.ErrCodeNotFound, ferrors.GetCode(err))
}

func TestMarkUpdatingRoutersError(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := seedRouter(t, s, "a", "10.0.0.1")
	b := seedRouter(t, s, "b", "10.0.0.2")
	require.NoError(t, s.UpdateRouterStatus(ctx, a.ID, models.RouterStatusUpdating))

	n, err := s.MarkUpdatingRoutersError(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.GetRouter(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RouterStatusError, got.Status)

	got, err = s.GetRouter(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RouterStatusUnknown, got.Status)
}

func TestDeleteAllRoutersCascadesHistory(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := seedRouter(t, s, "r1", "10.0.0.1")
	require.NoError(t, s.InsertHistory(ctx, &models.UpdateHistory{RouterID: r.ID}))

	n, err := s.DeleteAllRouters(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	history, err := s.RecentHistory(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDeleteRouter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := seedRouter(t, s, "r1", "10.0.0.1")
	require.NoError(t, s.DeleteRouter(ctx, r.ID))

	_, err := s.GetRouter(ctx, r.ID)
	assert.Equal(t, ferrors.ErrCodeNotFound, ferrors.GetCode(err))

	err = s.DeleteRouter(ctx, r.ID)
	assert.Equal(t, ferrors.ErrCodeNotFound, ferrors.GetCode(err))
}

func TestCountRoutersByStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	seedRouter(t, s, "a", "10.0.0.1")
	b := seedRouter(t, s, "b", "10.0.0.2")
	require.NoError(t, s.UpdateRouterStatus(ctx, b.ID, models.RouterStatusUpdateAvailable))

	counts, err := s.CountRoutersByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.RouterStatusUnknown])
	assert.Equal(t, 1, counts[models.RouterStatusUpdateAvailable])
}
