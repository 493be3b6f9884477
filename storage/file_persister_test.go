package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFilePersister(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		path         string
		existingData string
		data         string
	}{
		{
			name: "just_file",
			path: "test.png",
			data: "some data",
		},
		{
			name: "with_dir",
			path: "path/to/test.png",
			data: "some data",
		},
		{
			name:         "truncates",
			path:         "test.png",
			data:         "some data",
			existingData: "existing data that is longer",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			if tt.existingData != "" {
				require.NoError(t, afero.WriteFile(fs, tt.path, []byte(tt.existingData), 0o600))
			}

			l := NewLocalFilePersister(fs)
			require.NoError(t, l.Persist(context.Background(), tt.path, strings.NewReader(tt.data)))

			i, err := fs.Stat(tt.path)
			require.NoError(t, err)
			assert.False(t, i.IsDir())

			bb, err := afero.ReadFile(fs, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.data, string(bb))
		})
	}
}

func TestLocalFilePersisterZeroValue(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "shots", "page.png")

	var l LocalFilePersister
	require.NoError(t, l.Persist(context.Background(), p, strings.NewReader("pixels")))

	bb, err := os.ReadFile(filepath.Clean(p))
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(bb))
}

func TestRemoteFilePersister(t *testing.T) {
	t.Parallel()

	const basePath = "artifacts"

	tests := []struct {
		name           string
		path           string
		data           string
		headers        map[string]string
		uploadResponse int
		wantError      string
	}{
		{
			name: "upload_file",
			path: "some/path/file.png",
			data: "here's some data",
			headers: map[string]string{
				"Authorization": "token asd123",
			},
			uploadResponse: http.StatusOK,
		},
		{
			name:           "upload_rate_limited",
			path:           "some/path/file.png",
			data:           "here's some data",
			uploadResponse: http.StatusTooManyRequests,
			wantError:      "uploading: server returned 429 (too many requests)",
		},
		{
			name:           "upload_fails",
			path:           "some/path/file.png",
			data:           "here's some data",
			uploadResponse: http.StatusInternalServerError,
			wantError:      "uploading: server returned 500 (internal server error)",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				defer r.Body.Close() //nolint:errcheck

				assert.Equal(t, http.MethodPut, r.Method)
				assert.Equal(t, "/"+basePath+"/"+tt.path, r.URL.Path)
				assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
				for k, v := range tt.headers {
					assert.Equal(t, v, r.Header.Get(k))
				}

				bb, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				assert.Equal(t, tt.data, string(bb))

				w.WriteHeader(tt.uploadResponse)
			}))
			defer s.Close()

			r := NewRemoteFilePersister(s.URL, tt.headers, basePath)

			err := r.Persist(context.Background(), tt.path, strings.NewReader(tt.data))
			if tt.wantError != "" {
				assert.EqualError(t, err, tt.wantError)
				return
			}
			assert.NoError(t, err)
		})
	}
}
