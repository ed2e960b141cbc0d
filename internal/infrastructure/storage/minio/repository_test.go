package minio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/pkg/errors"
)

type MockMinIOAPI struct {
	mock.Mock
}

func (m *MockMinIOAPI) ListBuckets(ctx context.Context) ([]minio.BucketInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).([]minio.BucketInfo), args.Error(1)
}

func (m *MockMinIOAPI) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *MockMinIOAPI) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	args := m.Called(ctx, bucketName, opts)
	return args.Error(0)
}

func (m *MockMinIOAPI) FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error {
	args := m.Called(ctx, bucketName, objectName, filePath, opts)
	return args.Error(0)
}

func (m *MockMinIOAPI) FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, filePath, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *MockMinIOAPI) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	args := m.Called(ctx, bucketName, objectName, opts)
	return args.Get(0).(minio.ObjectInfo), args.Error(1)
}

var noSuchKey = minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}

func TestParseLocator(t *testing.T) {
	cases := []struct {
		in      string
		want    Locator
		wantErr bool
	}{
		{in: "s3://bucket/a/b.pdb", want: Locator{Scheme: "s3", Bucket: "bucket", Key: "a/b.pdb"}},
		{in: "minio://bkt//x.sdf", want: Locator{Scheme: "minio", Bucket: "bkt", Key: "x.sdf"}},
		{in: "/data/protein.pdb", want: Locator{Path: "/data/protein.pdb"}},
		{in: "relative/ligand.sdf", want: Locator{Path: "relative/ligand.sdf"}},
		{in: "s3://bucket", wantErr: true},
		{in: "s3:///key", wantErr: true},
		{in: " ", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseLocator(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			assert.True(t, errors.IsCode(err, errors.ErrCodeValidation), tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
	assert.Equal(t, "s3://bucket/a/b.pdb", Locator{Scheme: "s3", Bucket: "bucket", Key: "a/b.pdb"}.String())
}

type ArtifactStoreTestSuite struct {
	suite.Suite
	api   *MockMinIOAPI
	store *ArtifactStore
	dir   string
	ctx   context.Context
}

func (s *ArtifactStoreTestSuite) SetupTest() {
	s.api = new(MockMinIOAPI)
	client := newClientWithAPI(s.api, &MinIOConfig{DefaultBucket: "poses"}, logging.NewNopLogger())
	s.store = NewArtifactStore(client, nil)
	s.dir = s.T().TempDir()
	s.ctx = context.Background()
}

func (s *ArtifactStoreTestSuite) writeFile(name, content string) string {
	p := filepath.Join(s.dir, name)
	s.Require().NoError(os.WriteFile(p, []byte(content), 0o644))
	return p
}

func (s *ArtifactStoreTestSuite) TestFetch_LocalPath() {
	src := s.writeFile("protein.pdb", "ATOM\nEND\n")
	dest := filepath.Join(s.dir, "ws", "inputs")

	got, err := s.store.Fetch(s.ctx, src, dest)
	s.Require().NoError(err)
	s.Equal(filepath.Join(dest, "protein.pdb"), got)
	data, err := os.ReadFile(got)
	s.Require().NoError(err)
	s.Equal("ATOM\nEND\n", string(data))
	s.api.AssertNotCalled(s.T(), "FGetObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *ArtifactStoreTestSuite) TestFetch_LocalMissing() {
	_, err := s.store.Fetch(s.ctx, filepath.Join(s.dir, "nope.pdb"), s.dir)
	s.Require().Error(err)
	s.True(errors.IsCode(err, errors.ErrCodeNotFound))
}

func (s *ArtifactStoreTestSuite) TestFetch_Remote() {
	dest := filepath.Join(s.dir, "inputs")
	s.api.On("FGetObject", mock.Anything, "data", "poses/lig.sdf", filepath.Join(dest, "lig.sdf"), mock.Anything).
		Run(func(args mock.Arguments) {
			_ = os.WriteFile(args.String(3), []byte("lig"), 0o644)
		}).Return(nil)

	got, err := s.store.Fetch(s.ctx, "s3://data/poses/lig.sdf", dest)
	s.Require().NoError(err)
	s.FileExists(got)
	s.api.AssertExpectations(s.T())
}

func (s *ArtifactStoreTestSuite) TestFetch_RemoteNotFound() {
	s.api.On("FGetObject", mock.Anything, "data", "missing.sdf", mock.Anything, mock.Anything).Return(noSuchKey)

	_, err := s.store.Fetch(s.ctx, "minio://data/missing.sdf", s.dir)
	s.Require().Error(err)
	s.True(errors.IsCode(err, errors.ErrCodeNotFound))
	s.Contains(err.Error(), "minio://data/missing.sdf")
}

func (s *ArtifactStoreTestSuite) TestPublish_CreatesBucketOnce() {
	src := s.writeFile("complex_opt.pdb", "END\n")
	s.api.On("BucketExists", mock.Anything, "results").Return(false, nil).Once()
	s.api.On("MakeBucket", mock.Anything, "results", mock.Anything).Return(nil).Once()
	s.api.On("FPutObject", mock.Anything, "results", mock.Anything, src,
		mock.MatchedBy(func(o minio.PutObjectOptions) bool { return o.ContentType == "chemical/x-pdb" })).
		Return(minio.UploadInfo{Size: 4}, nil)

	for _, key := range []string{"run/p1_complex_opt.pdb", "run/p2_complex_opt.pdb"} {
		got, err := s.store.Publish(s.ctx, src, "s3://results/"+key)
		s.Require().NoError(err)
		s.Equal("s3://results/"+key, got)
	}
	s.api.AssertNumberOfCalls(s.T(), "BucketExists", 1)
	s.api.AssertNumberOfCalls(s.T(), "FPutObject", 2)
}

func (s *ArtifactStoreTestSuite) TestPublish_KeyInDefaultBucket() {
	src := s.writeFile("lig_opt.pdb", "END\n")
	s.api.On("BucketExists", mock.Anything, "poses").Return(true, nil)
	s.api.On("FPutObject", mock.Anything, "poses", "out/lig_opt.pdb", src, mock.Anything).Return(minio.UploadInfo{}, nil)

	got, err := s.store.Publish(s.ctx, src, "/out/lig_opt.pdb")
	s.Require().NoError(err)
	s.Equal("s3://poses/out/lig_opt.pdb", got)
}

func (s *ArtifactStoreTestSuite) TestPublish_UploadFailure() {
	src := s.writeFile("prot.pdb", "END\n")
	s.api.On("BucketExists", mock.Anything, "results").Return(true, nil)
	s.api.On("FPutObject", mock.Anything, "results", "prot.pdb", src, mock.Anything).
		Return(minio.UploadInfo{}, minio.ErrorResponse{Code: "AccessDenied"})

	_, err := s.store.Publish(s.ctx, src, "s3://results/prot.pdb")
	s.Require().Error(err)
	s.True(errors.IsCode(err, errors.ErrCodeStorageError))
}

func (s *ArtifactStoreTestSuite) TestExists() {
	s.api.On("StatObject", mock.Anything, "b", "k.pdb", mock.Anything).Return(minio.ObjectInfo{Key: "k.pdb"}, nil)
	s.api.On("StatObject", mock.Anything, "b", "gone.pdb", mock.Anything).Return(minio.ObjectInfo{}, noSuchKey)

	ok, err := s.store.Exists(s.ctx, "s3://b/k.pdb")
	s.NoError(err)
	s.True(ok)
	ok, err = s.store.Exists(s.ctx, "s3://b/gone.pdb")
	s.NoError(err)
	s.False(ok)
}

func (s *ArtifactStoreTestSuite) TestClosedClient() {
	s.Require().NoError(s.store.client.Close())
	_, err := s.store.Fetch(s.ctx, "s3://b/k.pdb", s.dir)
	s.ErrorIs(err, ErrMinIOClientClosed)
}

func TestArtifactStoreSuite(t *testing.T) {
	suite.Run(t, new(ArtifactStoreTestSuite))
}

func TestArtifactStore_LocalOnly(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "complex_opt.pdb")
	require.NoError(t, os.WriteFile(src, []byte("END\n"), 0o644))
	store := NewArtifactStore(nil, nil)

	dst := filepath.Join(dir, "published", "run", "p1.pdb")
	got, err := store.Publish(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Equal(t, dst, got)
	assert.FileExists(t, dst)

	_, err = store.Fetch(context.Background(), "s3://b/k.pdb", dir)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFeatureDisabled))
}
