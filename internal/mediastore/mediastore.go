// Package mediastore relays provider media to durable storage. Provider CDN
// URLs expire within days, so every media URL is downloaded and re-hosted
// before it is written into a workflow record or handed to the next provider.
//
// Two backends exist: an S3-compatible object store for production, and a
// local directory served by the daemon for development and tests. The backend
// is chosen from configuration at construction time.
package mediastore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"clipflow/internal/config"
	"clipflow/internal/logging"
	"clipflow/internal/services"
)

// Service relays media from a provider URL to durable storage and returns the
// permanent URL. Provider download URLs may require the provider API key, sent
// as an X-Api-Key header when authToken is non-empty.
type Service interface {
	Relay(ctx context.Context, sourceURL, authToken, destKey string) (string, error)
}

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewService selects a backend from configuration: the object store when a
// bucket is configured, otherwise the local media directory.
func NewService(cfg *config.Config, logger *slog.Logger) (Service, error) {
	if cfg.Storage.Bucket != "" {
		return newObjectService(cfg.Storage, logger)
	}
	return NewLocalService(cfg.Paths.MediaDir, cfg.Paths.PublicBaseURL, logger), nil
}

type objectService struct {
	client    *minio.Client
	bucket    string
	publicURL string
	logger    *slog.Logger
	download  HTTPDoer
}

func newObjectService(cfg config.Storage, logger *slog.Logger) (*objectService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "mediastore", "new", "create object client", err)
	}
	return &objectService{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		logger:    logging.NewComponentLogger(logger, "mediastore"),
		download:  &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

// Relay streams the source into the object store and returns the public URL.
func (s *objectService) Relay(ctx context.Context, sourceURL, authToken, destKey string) (string, error) {
	destKey = cleanKey(destKey)
	body, size, contentType, err := openSource(ctx, s.download, sourceURL, authToken)
	if err != nil {
		return "", err
	}
	defer body.Close()

	start := time.Now()
	_, err = s.client.PutObject(ctx, s.bucket, destKey, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", services.Wrap(services.ErrRelay, "mediastore", "put", destKey, err)
	}

	s.logger.Info("relayed media to object store",
		logging.String("key", destKey),
		logging.Int64("bytes", size),
		logging.Duration("elapsed", time.Since(start)))
	return s.publicURL + "/" + destKey, nil
}

// LocalService stores relayed media under a directory served by the daemon.
type LocalService struct {
	dir      string
	baseURL  string
	logger   *slog.Logger
	download HTTPDoer
}

// NewLocalService builds a relay backed by the local filesystem.
func NewLocalService(dir, publicBaseURL string, logger *slog.Logger) *LocalService {
	return &LocalService{
		dir:      dir,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
		logger:   logging.NewComponentLogger(logger, "mediastore"),
		download: &http.Client{Timeout: 5 * time.Minute},
	}
}

// WithHTTPClient overrides the download client, used by tests.
func (s *LocalService) WithHTTPClient(client HTTPDoer) *LocalService {
	if client != nil {
		s.download = client
	}
	return s
}

// Relay writes the source to the media directory and returns the daemon-served
// URL. The write goes through a temp file so a failed download never leaves a
// partial object at the final key.
func (s *LocalService) Relay(ctx context.Context, sourceURL, authToken, destKey string) (string, error) {
	destKey = cleanKey(destKey)
	body, _, _, err := openSource(ctx, s.download, sourceURL, authToken)
	if err != nil {
		return "", err
	}
	defer body.Close()

	target := filepath.Join(s.dir, filepath.FromSlash(destKey))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", services.Wrap(services.ErrRelay, "mediastore", "mkdir", destKey, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".relay-*")
	if err != nil {
		return "", services.Wrap(services.ErrRelay, "mediastore", "temp", destKey, err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	written, err := io.Copy(tmp, body)
	if err != nil {
		return "", services.Wrap(services.ErrRelay, "mediastore", "download", destKey, err)
	}
	if err := tmp.Close(); err != nil {
		return "", services.Wrap(services.ErrRelay, "mediastore", "close", destKey, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", services.Wrap(services.ErrRelay, "mediastore", "rename", destKey, err)
	}

	s.logger.Info("relayed media to local store",
		logging.String("key", destKey),
		logging.Int64("bytes", written))
	return s.baseURL + "/media/" + destKey, nil
}

func openSource(ctx context.Context, client HTTPDoer, sourceURL, authToken string) (io.ReadCloser, int64, string, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return nil, 0, "", services.Wrap(services.ErrRelay, "mediastore", "download", "empty source url", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, 0, "", services.Wrap(services.ErrRelay, "mediastore", "download", "build request", err)
	}
	if authToken != "" {
		req.Header.Set("X-Api-Key", authToken)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, "", services.Wrap(services.ErrRelay, "mediastore", "download", sourceURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, "", services.Wrap(services.ErrRelay, "mediastore", "download", fmt.Sprintf("source returned %d", resp.StatusCode), nil)
	}
	return resp.Body, resp.ContentLength, resp.Header.Get("Content-Type"), nil
}

// MediaKey builds the storage key for a record's stage output.
func MediaKey(family, recordID, stage string) string {
	name := fmt.Sprintf("%s-%s.mp4", recordID, stage)
	return path.Join(family, name)
}

// cleanKey resolves the key against a virtual root so ".." segments can never
// escape the storage prefix.
func cleanKey(key string) string {
	return strings.TrimLeft(path.Clean("/"+key), "/")
}
