package net

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mchmarny/riskscore/pkg/model"
	"golang.org/x/sync/errgroup"
)

const dirMode = 0700

// FetchArtifacts downloads every artifact in files from baseURL into dir.
// Each artifact is tried with every accepted extension in order; the first
// one found wins. Missing optional artifacts are skipped. Returns the local
// paths written.
func FetchArtifacts(ctx context.Context, c *http.Client, baseURL, dir string, files []model.ArtifactFile) ([]string, error) {
	if baseURL == "" {
		return nil, errors.New("artifact base URL required")
	}
	if dir == "" {
		return nil, errors.New("artifact directory required")
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("error creating artifact dir %s: %w", dir, err)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	paths := make([]string, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			p, err := fetchArtifact(ctx, c, baseURL, dir, f.Name)
			if errors.Is(err, ErrorURLNotFound) && f.Optional {
				slog.Debug("optional artifact not found", "name", f.Name)
				return nil
			}
			if err != nil {
				return err
			}
			paths[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func fetchArtifact(ctx context.Context, c *http.Client, baseURL, dir, name string) (string, error) {
	for _, ext := range model.Extensions {
		url := baseURL + "/" + name + ext
		path := filepath.Join(dir, name+ext)
		err := Download(ctx, c, url, path)
		if errors.Is(err, ErrorURLNotFound) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("error fetching artifact %s: %w", name, err)
		}
		slog.Debug("artifact downloaded", "url", url, "path", path)
		removeStale(dir, name, ext)
		return path, nil
	}
	return "", fmt.Errorf("%w: artifact %s under %s", ErrorURLNotFound, name, baseURL)
}

// removeStale deletes local copies of name with other extensions so the
// loader picks the file just downloaded.
func removeStale(dir, name, keep string) {
	for _, ext := range model.Extensions {
		if ext == keep {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name+ext)); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove stale artifact", "name", name+ext, "error", err)
		}
	}
}
