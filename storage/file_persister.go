// Package storage persists artifacts produced by a driven browser,
// such as screenshots and PDF exports.
package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// FilePersister writes the contents of data to path on some backing
// store.
type FilePersister interface {
	Persist(ctx context.Context, path string, data io.Reader) error
}

// LocalFilePersister writes files to a filesystem, creating parent
// directories as needed. The zero value writes to the OS filesystem.
type LocalFilePersister struct {
	fs afero.Fs
}

// NewLocalFilePersister returns a persister backed by fs. A nil fs
// falls back to the OS filesystem.
func NewLocalFilePersister(fs afero.Fs) *LocalFilePersister {
	return &LocalFilePersister{fs: fs}
}

// Persist writes the contents of data to path, truncating any
// existing file.
func (l *LocalFilePersister) Persist(_ context.Context, path string, data io.Reader) (err error) {
	fs := l.fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	cp := filepath.Clean(path)

	dir := filepath.Dir(cp)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %q: %w", dir, err)
	}

	f, err := fs.OpenFile(cp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating file %q: %w", cp, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing file %q: %w", cp, cerr)
		}
	}()

	bf := bufio.NewWriter(f)

	if _, err := io.Copy(bf, data); err != nil {
		return fmt.Errorf("copying data to file: %w", err)
	}

	if err := bf.Flush(); err != nil {
		return fmt.Errorf("flushing data to disk: %w", err)
	}

	return nil
}

// RemoteFilePersister uploads files to an HTTP artifact store with a
// PUT per file. The file's path is appended to the store URL below
// basePath, and the configured headers go out with every request.
type RemoteFilePersister struct {
	storeURL string
	headers  map[string]string
	basePath string

	httpClient *http.Client
}

// NewRemoteFilePersister creates a persister uploading to storeURL.
func NewRemoteFilePersister(storeURL string, headers map[string]string, basePath string) *RemoteFilePersister {
	return &RemoteFilePersister{
		storeURL: storeURL,
		headers:  headers,
		basePath: basePath,
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

// Persist uploads the contents of data under path.
func (r *RemoteFilePersister) Persist(ctx context.Context, p string, data io.Reader) (err error) {
	url := strings.TrimRight(r.storeURL, "/") + "/" + path.Join(r.basePath, path.Clean(p))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, data)
	if err != nil {
		return fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing upload request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("draining upload response body: %w", err)
	}

	if err := checkStatusCode(resp); err != nil {
		return fmt.Errorf("uploading: %w", err)
	}

	return nil
}

func checkStatusCode(resp *http.Response) error {
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("server returned %d (%s)", resp.StatusCode, strings.ToLower(http.StatusText(resp.StatusCode)))
	}

	return nil
}
