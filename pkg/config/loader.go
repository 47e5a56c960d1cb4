package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/model"
	"github.com/openfroyo/configurator/pkg/telemetry"
)

// DocumentParser decodes one model document format into declared types.
type DocumentParser interface {
	Format() string
	ParseFile(ctx context.Context, path string) ([]*model.Type, error)
}

// Loader loads model documents from files and directories and builds an
// immutable model store.
type Loader struct {
	parsers map[string]DocumentParser
	cue     *CUEParser
	opts    model.BuildOptions
}

// NewLoader creates a loader for YAML, CUE and HCL documents.
func NewLoader(opts model.BuildOptions) *Loader {
	cue := NewCUEParser()
	yaml := NewYAMLParser()
	return &Loader{
		parsers: map[string]DocumentParser{
			".yaml": yaml,
			".yml":  yaml,
			".cue":  cue,
			".hcl":  NewHCLParser(),
		},
		cue:  cue,
		opts: opts,
	}
}

// IsModelFile reports whether path has a model document extension.
func IsModelFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".cue", ".hcl":
		return true
	}
	return false
}

// Load parses every source, merges the declared types and builds a store.
// Directories are walked recursively; a directory holding .cue files is
// loaded as one CUE package. Any failure rejects the whole model.
func (l *Loader) Load(ctx context.Context, sources ...string) (*model.Store, *LoadReport, error) {
	if len(sources) == 0 {
		return nil, nil, engine.NewModelError("no model sources provided", nil)
	}

	source := strings.Join(sources, ",")
	op := telemetry.StartOperation(ctx, "model.load", telemetry.AttrModelSource.String(source))
	store, report, err := l.load(op.Ctx, sources)
	op.End(err)

	tel := telemetry.FromTelemetryContext(ctx)
	status := "success"
	if err != nil {
		status = "rejected"
		op.Logger.WithError(err).Warnf("model %s rejected", source)
		if tel != nil {
			_ = tel.Events.PublishModelRejected(source, err.Error())
		}
	} else {
		report.Duration = op.Timer.Duration()
		op.Logger.WithModel(source, report.Types).Infof("model loaded from %d files", len(report.SourceFiles))
		if tel != nil {
			_ = tel.Events.PublishModelLoaded(source, report.Types)
		}
	}
	if tel != nil {
		tel.Metrics.RecordModelLoad(formatOf(sources), status, op.Timer.Duration())
	}
	return store, report, err
}

func (l *Loader) load(ctx context.Context, sources []string) (*model.Store, *LoadReport, error) {
	var (
		types []*model.Type
		files []string
	)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		info, err := os.Stat(src)
		if err != nil {
			return nil, nil, engine.NewModelError(fmt.Sprintf("failed to stat source %s", src), err)
		}
		var (
			loaded []*model.Type
			used   []string
		)
		if info.IsDir() {
			loaded, used, err = l.loadDirectory(ctx, src)
		} else {
			loaded, err = l.loadFile(ctx, src)
			used = []string{src}
		}
		if err != nil {
			return nil, nil, err
		}
		types = append(types, loaded...)
		files = append(files, used...)
	}

	// Build reports duplicate type names across files as InvalidReference.
	store, err := model.Build(types, l.opts)
	if err != nil {
		return nil, nil, err
	}
	return store, &LoadReport{SourceFiles: files, Types: len(types), LoadedAt: time.Now()}, nil
}

func (l *Loader) loadFile(ctx context.Context, path string) ([]*model.Type, error) {
	p, ok := l.parsers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, engine.NewModelError(fmt.Sprintf("unsupported model document %s", path), nil)
	}
	loaderLogger(ctx).Debugf("parsing %s document %s", p.Format(), path)
	return p.ParseFile(ctx, path)
}

// loadDirectory loads model files below dir in lexical order.
func (l *Loader) loadDirectory(ctx context.Context, dir string) ([]*model.Type, []string, error) {
	byDir := make(map[string][]string)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsModelFile(path) {
			byDir[filepath.Dir(path)] = append(byDir[filepath.Dir(path)], path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, engine.NewModelError(fmt.Sprintf("failed to walk directory %s", dir), err)
	}

	dirs := make([]string, 0, len(byDir))
	for d := range byDir {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	var (
		types []*model.Type
		files []string
	)
	for _, d := range dirs {
		paths := byDir[d]
		sort.Strings(paths)
		cuePackage := false
		for _, p := range paths {
			if strings.EqualFold(filepath.Ext(p), ".cue") {
				cuePackage = true
				continue
			}
			loaded, err := l.loadFile(ctx, p)
			if err != nil {
				return nil, nil, err
			}
			types = append(types, loaded...)
			files = append(files, p)
		}
		if cuePackage {
			loaded, err := l.cue.ParseDirectory(ctx, d)
			if err != nil {
				return nil, nil, err
			}
			types = append(types, loaded...)
			for _, p := range paths {
				if strings.EqualFold(filepath.Ext(p), ".cue") {
					files = append(files, p)
				}
			}
		}
	}
	if len(files) == 0 {
		return nil, nil, engine.NewModelError(fmt.Sprintf("no model documents found in %s", dir), nil)
	}
	return types, files, nil
}

// formatOf labels a load for metrics: the shared extension, or "mixed".
func formatOf(sources []string) string {
	format := ""
	for _, s := range sources {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(s)), ".")
		if ext == "yml" {
			ext = "yaml"
		}
		if ext == "" {
			ext = "dir"
		}
		if format != "" && format != ext {
			return "mixed"
		}
		format = ext
	}
	return format
}

// loaderLogger returns the component logger for model loading.
func loaderLogger(ctx context.Context) *telemetry.Logger {
	return telemetry.FromContext(ctx).NewComponentLogger("loader")
}
