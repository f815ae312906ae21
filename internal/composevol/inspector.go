// Package composevol inspects a workspace's compose file(s) and reports
// the deduplicated set of (logicalName, type) volumes DataSync needs to
// copy between workspaces.
//
// Grounded on compose-spec/compose-go/v2, the same library nlsantos-brig
// uses (at v1) and fgrehm-crib/griffithind-dcx use (at v2) for parsing a
// project's full compose model rather than hand-rolling YAML structs the
// way the teacher's own devcontainer.go does for the narrower ports/labels
// case.
package composevol

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"

	"github.com/forgeware/forge/internal/model"
)

// Inspect loads the compose files at composeFiles (relative to dir) and
// returns the deduplicated volume surface: every named volume declared in
// the top-level `volumes:` section, plus every named volume and bind mount
// referenced by any service. Entries first found in a service carry the
// container path they are mounted at; volumes declared in the top-level
// section carry no container path.
func Inspect(ctx context.Context, dir string, composeFiles []string) ([]model.Volume, error) {
	if len(composeFiles) == 0 {
		return nil, nil
	}

	configFiles := make([]types.ConfigFile, 0, len(composeFiles))
	for _, f := range composeFiles {
		path := f
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, f)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read compose file %s: %w", path, err)
		}
		configFiles = append(configFiles, types.ConfigFile{Filename: path, Content: content})
	}

	details := types.ConfigDetails{
		WorkingDir:  dir,
		ConfigFiles: configFiles,
	}

	project, err := loader.LoadWithContext(ctx, details, func(o *loader.Options) {
		o.SkipValidation = true
		o.SkipConsistencyCheck = true
		o.SkipNormalization = true
		o.ResolvePaths = false
	})
	if err != nil {
		return nil, fmt.Errorf("parse compose project in %s: %w", dir, err)
	}

	seen := make(map[string]bool)
	var volumes []model.Volume

	for name := range project.Volumes {
		key := "named:" + name
		if seen[key] {
			continue
		}
		seen[key] = true
		volumes = append(volumes, model.Volume{
			LogicalName: name,
			Type:        model.VolumeTypeNamed,
		})
	}

	for _, svc := range project.Services {
		for _, v := range svc.Volumes {
			switch v.Type {
			case types.VolumeTypeVolume:
				if v.Source == "" {
					continue
				}
				key := "named:" + v.Source
				if seen[key] {
					continue
				}
				seen[key] = true
				volumes = append(volumes, model.Volume{
					LogicalName: v.Source,
					Type:        model.VolumeTypeNamed,
					Target:      v.Target,
				})
			case types.VolumeTypeBind:
				key := "bind:" + v.Source
				if seen[key] {
					continue
				}
				seen[key] = true
				volumes = append(volumes, model.Volume{
					LogicalName: v.Source,
					Type:        model.VolumeTypeBind,
					Target:      v.Target,
				})
			}
		}
	}

	return volumes, nil
}
