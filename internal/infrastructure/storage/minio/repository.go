package minio

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/PoseRank/internal/application/ranking"
	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/pkg/errors"
)

var (
	ErrObjectNotFound    = errors.New(errors.ErrCodeNotFound, "object not found")
	ErrUploadFailed      = errors.New(errors.ErrCodeStorageError, "upload failed")
	ErrDownloadFailed    = errors.New(errors.ErrCodeStorageError, "download failed")
	ErrInvalidLocator    = errors.New(errors.ErrCodeValidation, "invalid locator")
	ErrStorageNotEnabled = errors.New(errors.ErrCodeFeatureDisabled, "object storage is not configured")
)

// Object-store locator schemes.
const (
	SchemeS3    = "s3"
	SchemeMinIO = "minio"
)

// Locator is a parsed storage reference. Remote locators carry a bucket and
// key; local ones only a path.
type Locator struct {
	Scheme string
	Bucket string
	Key    string
	Path   string
}

// Remote reports whether l points into object storage.
func (l Locator) Remote() bool { return l.Scheme != "" }

// String renders remote locators as scheme://bucket/key.
func (l Locator) String() string {
	if !l.Remote() {
		return l.Path
	}
	return l.Scheme + "://" + l.Bucket + "/" + l.Key
}

// ParseLocator splits s3://bucket/key and minio://bucket/key. Anything
// without one of those schemes is a local path.
func ParseLocator(s string) (Locator, error) {
	for _, scheme := range []string{SchemeS3, SchemeMinIO} {
		prefix := scheme + "://"
		if !strings.HasPrefix(s, prefix) {
			continue
		}
		rest := strings.TrimPrefix(s, prefix)
		bucket, key, ok := strings.Cut(rest, "/")
		key = strings.TrimLeft(key, "/")
		if !ok || bucket == "" || key == "" {
			return Locator{}, errors.Wrap(ErrInvalidLocator, errors.ErrCodeValidation, "locator needs bucket and key").WithDetail(s)
		}
		return Locator{Scheme: scheme, Bucket: bucket, Key: path.Clean(key)}, nil
	}
	if strings.TrimSpace(s) == "" {
		return Locator{}, errors.Wrap(ErrInvalidLocator, errors.ErrCodeValidation, "empty locator")
	}
	return Locator{Path: s}, nil
}

// ArtifactStore moves pose inputs into workspaces and publishes produced
// structures. Local paths are copied; object-store locators go through
// MinIO. A nil client limits the store to local paths.
type ArtifactStore struct {
	client *MinIOClient
	logger logging.Logger
}

var _ ranking.ArtifactTransfer = (*ArtifactStore)(nil)

// NewArtifactStore creates the store.
func NewArtifactStore(client *MinIOClient, logger logging.Logger) *ArtifactStore {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ArtifactStore{client: client, logger: logger}
}

func (s *ArtifactStore) remote() (*MinIOClient, error) {
	if s.client == nil {
		return nil, ErrStorageNotEnabled
	}
	if s.client.isClosed() {
		return nil, ErrMinIOClientClosed
	}
	return s.client, nil
}

// Fetch materialises locator as a file in destDir and returns its path. The
// file keeps its base name, so callers give each input its own destDir.
func (s *ArtifactStore) Fetch(ctx context.Context, locator, destDir string) (string, error) {
	loc, err := ParseLocator(locator)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeStorageError, "create destination directory")
	}

	if !loc.Remote() {
		dst := filepath.Join(destDir, filepath.Base(loc.Path))
		if err := copyFile(loc.Path, dst); err != nil {
			return "", err
		}
		return dst, nil
	}

	c, err := s.remote()
	if err != nil {
		return "", err
	}
	dst := filepath.Join(destDir, path.Base(loc.Key))
	if err := c.client.FGetObject(ctx, loc.Bucket, loc.Key, dst, minio.GetObjectOptions{}); err != nil {
		if isNotFound(err) {
			return "", errors.Wrap(ErrObjectNotFound, errors.ErrCodeNotFound, "object not found").WithDetail(loc.String())
		}
		return "", errors.Wrap(err, errors.ErrCodeStorageError, ErrDownloadFailed.Message).WithDetail(loc.String())
	}
	s.logger.Debug("object downloaded", logging.String("locator", loc.String()), logging.String("path", dst))
	return dst, nil
}

// Publish uploads localPath to destination and returns the stored locator.
// Destinations without a scheme are keys in the default bucket when one is
// configured and local paths otherwise.
func (s *ArtifactStore) Publish(ctx context.Context, localPath, destination string) (string, error) {
	loc, err := ParseLocator(destination)
	if err != nil {
		return "", err
	}
	if !loc.Remote() && s.client != nil && s.client.DefaultBucket() != "" {
		loc = Locator{Scheme: SchemeS3, Bucket: s.client.DefaultBucket(), Key: strings.TrimLeft(loc.Path, "/")}
	}

	if !loc.Remote() {
		if err := os.MkdirAll(filepath.Dir(loc.Path), 0o755); err != nil {
			return "", errors.Wrap(err, errors.ErrCodeStorageError, "create destination directory")
		}
		if err := copyFile(localPath, loc.Path); err != nil {
			return "", err
		}
		return loc.Path, nil
	}

	c, err := s.remote()
	if err != nil {
		return "", err
	}
	if err := c.EnsureBucket(ctx, loc.Bucket); err != nil {
		return "", err
	}
	info, err := c.client.FPutObject(ctx, loc.Bucket, loc.Key, localPath, minio.PutObjectOptions{
		ContentType: contentType(loc.Key),
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeStorageError, ErrUploadFailed.Message).WithDetail(loc.String())
	}
	s.logger.Info("artifact uploaded",
		logging.String("locator", loc.String()),
		logging.Int64("size", info.Size),
	)
	return loc.String(), nil
}

// Exists reports whether a remote locator refers to an existing object.
func (s *ArtifactStore) Exists(ctx context.Context, locator string) (bool, error) {
	loc, err := ParseLocator(locator)
	if err != nil {
		return false, err
	}
	if !loc.Remote() {
		_, err := os.Stat(loc.Path)
		return err == nil, nil
	}
	c, err := s.remote()
	if err != nil {
		return false, err
	}
	if _, err := c.client.StatObject(ctx, loc.Bucket, loc.Key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.ErrCodeStorageError, "stat object").WithDetail(loc.String())
	}
	return true, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}

func contentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".pdb":
		return "chemical/x-pdb"
	case ".sdf", ".mol":
		return "chemical/x-mdl-sdfile"
	case ".cif":
		return "chemical/x-cif"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(err, errors.ErrCodeNotFound, "file not found").WithDetail(src)
		}
		return errors.Wrap(err, errors.ErrCodeStorageError, "open source file").WithDetail(src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "create destination file").WithDetail(dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrap(err, errors.ErrCodeStorageError, "copy file").WithDetail(dst)
	}
	if err := out.Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "close destination file").WithDetail(dst)
	}
	return nil
}
