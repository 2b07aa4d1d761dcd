package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/types"
	"github.com/craftd/msm/test/framework"
)

// TestBackupRoundTripOverAPI takes a cold backup, damages the world, and
// restores it, checking the archive really carries the directory.
func TestBackupRoundTripOverAPI(t *testing.T) {
	if testing.Short() {
		t.Skip("integration flow")
	}
	framework.SkipUnlessUnix(t)

	ctx := context.Background()
	d := framework.NewDaemon(t, framework.Config{})

	srv := d.CreateServer(t, "vault", framework.ObedientScript)
	world := filepath.Join(d.ServerDir("vault"), "world")
	require.NoError(t, os.MkdirAll(world, 0o755))
	level := filepath.Join(world, "level.dat")
	require.NoError(t, os.WriteFile(level, []byte("pristine world"), 0o644))

	b, err := d.Client.CreateBackup(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BackupCompleted, b.Status)
	assert.Positive(t, b.SizeBytes)
	_, err = os.Stat(b.Path)
	require.NoError(t, err, "archive should exist on disk")

	// Damage the world and drop junk next to it; restore must bring back
	// exactly the archived tree.
	require.NoError(t, os.WriteFile(level, []byte("corrupted"), 0o644))
	junk := filepath.Join(d.ServerDir("vault"), "junk.tmp")
	require.NoError(t, os.WriteFile(junk, []byte("x"), 0o644))

	require.NoError(t, d.Client.RestoreBackup(ctx, b.ID))

	got, err := os.ReadFile(level)
	require.NoError(t, err)
	assert.Equal(t, "pristine world", string(got))
	_, statErr := os.Stat(junk)
	assert.True(t, os.IsNotExist(statErr), "restore should clear files the archive does not carry")

	require.NoError(t, d.Client.DeleteBackup(ctx, b.ID))
	_, statErr = os.Stat(b.Path)
	assert.True(t, os.IsNotExist(statErr), "archive should be deleted")
	remaining, err := d.Client.ListServerBackups(ctx, srv.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

// TestBackupPruneKeepsNewest creates more backups than the retention
// count allows and checks prune removes the oldest archives only.
func TestBackupPruneKeepsNewest(t *testing.T) {
	if testing.Short() {
		t.Skip("integration flow")
	}
	framework.SkipUnlessUnix(t)

	ctx := context.Background()
	d := framework.NewDaemon(t, framework.Config{KeepBackups: 2})

	srv := d.CreateServer(t, "hoard", framework.ObedientScript)

	var made []*types.Backup
	for i := 0; i < 3; i++ {
		if i > 0 {
			// Archive names carry second resolution.
			time.Sleep(1100 * time.Millisecond)
		}
		b, err := d.Client.CreateBackup(ctx, srv.ID)
		require.NoError(t, err)
		made = append(made, b)
	}

	removed, err := d.Client.PruneBackups(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	left, err := d.Client.ListServerBackups(ctx, srv.ID)
	require.NoError(t, err)
	require.Len(t, left, 2)
	for _, b := range left {
		assert.NotEqual(t, made[0].ID, b.ID, "oldest backup should be the pruned one")
	}
	_, statErr := os.Stat(made[0].Path)
	assert.True(t, os.IsNotExist(statErr), "pruned archive should be gone from disk")
}

// TestScheduleCRUDOverAPI walks a schedule through create, disable, and
// delete, including the validations that refuse bad definitions.
func TestScheduleCRUDOverAPI(t *testing.T) {
	if testing.Short() {
		t.Skip("integration flow")
	}
	framework.SkipUnlessUnix(t)

	ctx := context.Background()
	d := framework.NewDaemon(t, framework.Config{})

	srv := d.CreateServer(t, "clockwork", framework.ObedientScript)

	sc, err := d.Client.CreateSchedule(ctx, srv.ID, &types.CreateScheduleSpec{
		Action:  types.ActionBackup,
		Cron:    "0 4 * * *",
		Enabled: true,
	})
	require.NoError(t, err)
	assert.True(t, sc.Enabled)
	require.NotNil(t, sc.NextRun, "creation should precompute the next fire time")
	assert.True(t, sc.NextRun.After(time.Now()), "next run must be in the future")

	_, err = d.Client.CreateSchedule(ctx, srv.ID, &types.CreateScheduleSpec{
		Action: types.ActionBackup,
		Cron:   "not a cron",
	})
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, "validation_error"), "got %v", err)

	_, err = d.Client.CreateSchedule(ctx, srv.ID, &types.CreateScheduleSpec{
		Action: types.ActionCommand,
		Cron:   "0 * * * *",
	})
	require.Error(t, err)
	assert.True(t, apierr.HasCode(err, "validation_error"), "command schedules need a payload, got %v", err)

	off := false
	updated, err := d.Client.UpdateSchedule(ctx, sc.ID, &types.UpdateScheduleSpec{Enabled: &off})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)

	require.NoError(t, d.Client.DeleteSchedule(ctx, sc.ID))
	listed, err := d.Client.ListServerSchedules(ctx, srv.ID)
	require.NoError(t, err)
	assert.Empty(t, listed)
}
