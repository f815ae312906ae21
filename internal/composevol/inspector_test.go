package composevol

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCompose = `
services:
  api:
    image: example/api
    volumes:
      - postgres-data:/var/lib/postgresql/data
      - ./local-cache:/app/cache
  worker:
    image: example/worker
    volumes:
      - postgres-data:/var/lib/postgresql/data

volumes:
  postgres-data: {}
`

func TestInspect_DeduplicatesAcrossServices(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docker-compose.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCompose), 0o644))

	volumes, err := Inspect(context.Background(), dir, []string{"docker-compose.yml"})
	require.NoError(t, err)

	names := make(map[string]string)
	for _, v := range volumes {
		names[v.LogicalName] = string(v.Type)
	}

	assert.Equal(t, "named", names["postgres-data"])
	assert.Equal(t, "bind", names["./local-cache"])
	assert.Len(t, volumes, 2, "postgres-data must appear once despite being mounted by two services")
}

func TestInspect_NoComposeFilesReturnsEmpty(t *testing.T) {
	volumes, err := Inspect(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	assert.Empty(t, volumes)
}
