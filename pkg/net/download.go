package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

var (
	maxDownloadBytes int64 = 64 << 20

	ErrorURLNotFound = errors.New("URL not found")
	ErrTooLarge      = errors.New("download exceeds size limit")
)

func getResp(ctx context.Context, c *http.Client, url string) (resp *http.Response, err error) {
	if c == nil {
		if c, err = GetHTTPClient(); err != nil {
			return nil, fmt.Errorf("error creating HTTP client: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP Get request: %w", err)
	}

	req.Header.Set("User-Agent", clientAgent)

	return c.Do(req) //nolint:gosec // G704: URL from config, not request input
}

// Download saves the content of url to path. The file is written through a
// temporary sibling so a failed download never leaves a partial artifact.
func Download(ctx context.Context, c *http.Client, url string, path string) (retErr error) {
	resp, err := getResp(ctx, c, url)
	if err != nil {
		return fmt.Errorf("error executing HTTP Get request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrorURLNotFound
	}

	if resp.StatusCode != http.StatusOK {
		PrintHTTPResponse(resp)
		return fmt.Errorf("error downloading file (status: %d - %s): %s", resp.StatusCode, resp.Status, url)
	}

	out, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}
	tmp := out.Name()
	defer func() {
		if retErr != nil {
			os.Remove(tmp)
		}
	}()

	n, err := io.Copy(out, io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		out.Close()
		return fmt.Errorf("error saving downloaded content to file: %w", err)
	}
	if n > maxDownloadBytes {
		out.Close()
		return fmt.Errorf("%w (%d bytes): %s", ErrTooLarge, maxDownloadBytes, url)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("error moving downloaded file into place: %w", err)
	}
	return nil
}
