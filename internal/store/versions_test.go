package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fotad.sh/internal/ferrors"
)

func TestUpsertFirmwareVersion(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	v, err := s.UpsertFirmwareVersion(ctx, "RUT9", "RUT9_R_00.07.06.20")
	require.NoError(t, err)
	assert.Equal(t, "RUT9", v.DevicePrefix)
	assert.Equal(t, "RUT9_R_00.07.06.20", v.LatestVersion)

	// Same prefix replaces the version instead of adding a row.
	v, err = s.UpsertFirmwareVersion(ctx, "RUT9", "RUT9_R_00.07.07.01")
	require.NoError(t, err)
	assert.Equal(t, "RUT9_R_00.07.07.01", v.LatestVersion)

	all, err := s.ListFirmwareVersions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "RUT9_R_00.07.07.01", all[0].LatestVersion)
}

func TestUpsertFirmwareVersionValidation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		prefix  string
		version string
	}{
		{"empty prefix", "", "RUT9_R_00.07.06.20"},
		{"lowercase prefix", "rut9", "RUT9_R_00.07.06.20"},
		{"version missing tail", "RUT9", "RUT9_R_00.07"},
		{"version wrong shape", "RUT9", "build-2024"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.UpsertFirmwareVersion(ctx, tt.prefix, tt.version)
			assert.Equal(t, ferrors.ErrCodeValidation, ferrors.GetCode(err))
		})
	}
}

func TestListFirmwareVersionsOrdered(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertFirmwareVersion(ctx, "TRB1", "TRB1_R_00.07.06.20")
	require.NoError(t, err)
	_, err = s.UpsertFirmwareVersion(ctx, "RUT2", "RUT2_R_00.07.06.20")
	require.NoError(t, err)

	all, err := s.ListFirmwareVersions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "RUT2", all[0].DevicePrefix)
	assert.Equal(t, "TRB1", all[1].DevicePrefix)
}

func TestDeleteFirmwareVersion(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertFirmwareVersion(ctx, "RUT9", "RUT9_R_00.07.06.20")
	require.NoError(t, err)

	require.NoError(t, s.DeleteFirmwareVersion(ctx, "RUT9"))

	err = s.DeleteFirmwareVersion(ctx, "RUT9")
	assert.Equal(t, ferrors.ErrCodeNotFound, ferrors.GetCode(err))
}

func TestLatestForPrefix(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LatestForPrefix(ctx, "RUT9")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.UpsertFirmwareVersion(ctx, "RUT9", "RUT9_R_00.07.06.20")
	require.NoError(t, err)

	version, ok, err := s.LatestForPrefix(ctx, "RUT9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "RUT9_R_00.07.06.20", version)
}
