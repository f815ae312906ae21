package datasync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeware/forge/internal/model"
)

func namedVolume(name string) model.Volume {
	return model.Volume{LogicalName: name, Type: model.VolumeTypeNamed}
}

func bindVolume(name string) model.Volume {
	return model.Volume{LogicalName: name, Type: model.VolumeTypeBind}
}

func TestSyncer_SkipAllShortCircuits(t *testing.T) {
	s := NewSyncer(nil)
	volumes := []model.Volume{namedVolume("postgres-data"), namedVolume("redis-data")}

	result := s.Copy(context.Background(), WorkspaceRef{Name: "a"}, WorkspaceRef{Name: "b"}, volumes, Filter{SkipAll: true}, nil)

	assert.Empty(t, result.Copied)
	assert.Empty(t, result.Errors)
	assert.ElementsMatch(t, []string{"postgres-data", "redis-data"}, result.Skipped)
}

func TestSyncer_IncludeExcludeFilters(t *testing.T) {
	s := NewSyncer(nil)
	volumes := []model.Volume{bindVolume("postgres-data"), bindVolume("redis-data"), bindVolume("minio-data")}

	dirA := t.TempDir()
	dirB := t.TempDir()
	for _, v := range volumes {
		require.NoError(t, os.MkdirAll(filepath.Join(dirA, v.LogicalName), 0o755))
	}

	result := s.Copy(context.Background(), WorkspaceRef{Path: dirA}, WorkspaceRef{Path: dirB}, volumes, Filter{
		Include: []string{"postgres-data", "redis-data"},
		Exclude: []string{"redis-data"},
	}, nil)

	assert.Equal(t, []string{"postgres-data"}, result.Copied)
	assert.ElementsMatch(t, []string{"redis-data", "minio-data"}, result.Skipped)
	assert.Empty(t, result.Errors)
}

func TestSyncer_MissingBindSourceRecordsErrorAndContinues(t *testing.T) {
	s := NewSyncer(nil)
	volumes := []model.Volume{bindVolume("present"), bindVolume("absent")}

	dirA := t.TempDir()
	dirB := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dirA, "present"), 0o755))

	result := s.Copy(context.Background(), WorkspaceRef{Path: dirA}, WorkspaceRef{Path: dirB}, volumes, Filter{}, nil)

	assert.Equal(t, []string{"present"}, result.Copied)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "absent", result.Errors[0].Volume)
}

func TestDiskUsage_ClassifiesThresholds(t *testing.T) {
	assert.Equal(t, DiskOK, classify(10))
	assert.Equal(t, DiskWarning, classify(85))
	assert.Equal(t, DiskError, classify(95))
}
