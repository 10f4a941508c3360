package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"ClipInsight/internal/models"
	"ClipInsight/internal/pipeline"
	stores "ClipInsight/pkg/storage"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	baseURL string
}

func newMemStore() *memStore { return &memStore{objects: make(map[string][]byte)} }

func (s *memStore) Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memStore) Read(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, 0, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (s *memStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memStore) PublicURL(key string) string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + "/" + key
}

func (s *memStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://signed.example.com/" + key, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

var _ stores.Store = (*memStore)(nil)

// stageRecorder 记录被触发的视频并通知等待方
type stageRecorder struct {
	ch chan string
}

func newStageRecorder() *stageRecorder { return &stageRecorder{ch: make(chan string, 8)} }

func (s *stageRecorder) Process(ctx context.Context, videoID string) error {
	s.ch <- videoID
	return nil
}

func (s *stageRecorder) wait(t *testing.T) string {
	t.Helper()
	select {
	case id := <-s.ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline was not triggered")
		return ""
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.VideoRecord{}))
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestUploader(db *gorm.DB, store stores.Store, maxBytes int64) (*Uploader, *stageRecorder) {
	transcribe := newStageRecorder()
	analyze := newStageRecorder()
	runner := pipeline.NewRunner(transcribe, analyze, quietLogger())
	return New(db, store, runner, maxBytes, quietLogger()), transcribe
}

func source(format string, payload []byte) ReaderSource {
	return ReaderSource{Reader: io.NopCloser(bytes.NewReader(payload)), Format: format}
}

func TestUploadHappyPath(t *testing.T) {
	db := openTestDB(t)
	store := newMemStore()
	up, transcribe := newTestUploader(db, store, 0)

	rec, err := up.Upload(context.Background(), "owner-1", source("webm", []byte("binary-bytes")))
	require.NoError(t, err)

	assert.Equal(t, models.StatusUploaded, rec.Status)
	assert.Equal(t, "owner-1", rec.OwnerID)
	assert.Equal(t, "webm", rec.Format)
	assert.Equal(t, int64(len("binary-bytes")), rec.SizeBytes)
	assert.True(t, strings.HasPrefix(rec.StoragePath, "videos/owner-1/"))
	assert.True(t, strings.HasSuffix(rec.StoragePath, ".webm"))

	exists, err := store.Exists(context.Background(), rec.StoragePath)
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Equal(t, rec.ID, transcribe.wait(t), "upload must trigger the pipeline for the new record")
}

func TestUploadSetsPublicURLWhenAvailable(t *testing.T) {
	db := openTestDB(t)
	store := newMemStore()
	store.baseURL = "https://cdn.example.com"
	up, _ := newTestUploader(db, store, 0)

	rec, err := up.Upload(context.Background(), "owner-1", source("mp4", []byte("x")))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rec.PublicURL, "https://cdn.example.com/videos/owner-1/"))
}

func TestUploadRejectsUnknownFormat(t *testing.T) {
	db := openTestDB(t)
	store := newMemStore()
	up, _ := newTestUploader(db, store, 0)

	_, err := up.Upload(context.Background(), "owner-1", source("exe", []byte("mz")))
	require.Error(t, err)
	assert.True(t, pipeline.IsCode(err, pipeline.CodeInvalidMedia))
	assert.Zero(t, store.count(), "rejected uploads must not reach the object store")
}

func TestUploadRejectsEmptyPayload(t *testing.T) {
	db := openTestDB(t)
	store := newMemStore()
	up, _ := newTestUploader(db, store, 0)

	_, err := up.Upload(context.Background(), "owner-1", source("webm", nil))
	require.Error(t, err)
	assert.True(t, pipeline.IsCode(err, pipeline.CodeEmptyMedia))
	assert.Contains(t, err.Error(), "empty")
	assert.Zero(t, store.count())
}

func TestUploadRejectsOversizedPayload(t *testing.T) {
	db := openTestDB(t)
	store := newMemStore()
	up, _ := newTestUploader(db, store, 1<<20)

	payload := bytes.Repeat([]byte("y"), (1<<20)+1)
	_, err := up.Upload(context.Background(), "owner-1", source("mp4", payload))
	require.Error(t, err)
	assert.True(t, pipeline.IsCode(err, pipeline.CodeSizeLimit))
	assert.Contains(t, err.Error(), "1 MiB")
	assert.Zero(t, store.count())
}

type deniedSource struct{}

func (deniedSource) Acquire(ctx context.Context) (io.ReadCloser, string, error) {
	return nil, "", pipeline.PermissionError(fmt.Errorf("camera access denied by user"))
}

// 权限被拒时不产生任何记录或存储写入
func TestUploadPermissionDenied(t *testing.T) {
	db := openTestDB(t)
	store := newMemStore()
	up, _ := newTestUploader(db, store, 0)

	_, err := up.Upload(context.Background(), "owner-1", deniedSource{})
	require.Error(t, err)
	assert.True(t, pipeline.IsCode(err, pipeline.CodePermission))
	assert.Zero(t, store.count())

	var n int64
	require.NoError(t, db.Model(&models.VideoRecord{}).Count(&n).Error)
	assert.Zero(t, n)
}

// 记录创建失败时二进制留在存储里成为孤儿，调用方得到持久化错误
func TestUploadOrphanOnRecordFailure(t *testing.T) {
	db := openTestDB(t)
	store := newMemStore()
	up, _ := newTestUploader(db, store, 0)

	// 空 owner 通过上传校验但被记录层拒绝
	_, err := up.Upload(context.Background(), "", source("webm", []byte("data")))
	require.Error(t, err)
	assert.True(t, pipeline.IsCode(err, pipeline.CodePersistence))
	assert.Equal(t, 1, store.count(), "binary stays behind for manual cleanup")
}
