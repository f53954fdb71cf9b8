package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CollectStats counts what Collect saw.
type CollectStats struct {
	Scanned int
	Matched int
	Errors  int
}

// PathError is a path Collect could not read.
type PathError struct {
	Path string
	Err  string
}

// Collect expands args into the files to ingest. Named files are kept as
// given, repeats included, so unsupported ones still get a per-file result.
// Directories are walked recursively and filtered to allowed extensions, in
// lexical order; a walked file already collected from an earlier argument
// is not added again.
func Collect(ctx context.Context, args []string, skipHidden bool) ([]string, []PathError, CollectStats, error) {
	var (
		files []string
		errs  []PathError
		stats CollectStats
		seen  = map[string]struct{}{}
		add   = func(path string) {
			seen[path] = struct{}{}
			files = append(files, path)
			stats.Matched++
		}
	)

	for _, arg := range args {
		if strings.TrimSpace(arg) == "" {
			return nil, nil, stats, errors.New("empty path argument")
		}
		st, err := os.Stat(arg)
		if err != nil || !st.IsDir() {
			// missing files become FAILED results downstream
			stats.Scanned++
			add(arg)
			continue
		}

		var found []string
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, walkErr error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if walkErr != nil {
				errs = append(errs, PathError{Path: path, Err: walkErr.Error()})
				stats.Errors++
				return nil
			}
			if path != arg && skipHidden && IsHidden(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			stats.Scanned++
			if AllowedExt(filepath.Ext(path)) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return files, errs, stats, fmt.Errorf("walk %s: %w", arg, err)
		}
		sort.Strings(found)
		for _, f := range found {
			if _, dup := seen[f]; !dup {
				add(f)
			}
		}
	}
	return files, errs, stats, nil
}
