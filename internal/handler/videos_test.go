package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ClipInsight/internal/models"
	"ClipInsight/internal/pipeline"
	"ClipInsight/internal/statussync"
	"ClipInsight/internal/uploader"
	"ClipInsight/pkg/config"
	"ClipInsight/pkg/signals"
	"ClipInsight/pkg/sse"
	stores "ClipInsight/pkg/storage"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeStage struct {
	err   error
	calls int
}

func (f *fakeStage) Process(ctx context.Context, videoID string) error {
	f.calls++
	return f.err
}

type nullStore struct{}

func (nullStore) Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return nil
}
func (nullStore) Read(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	return nil, 0, fmt.Errorf("not implemented")
}
func (nullStore) Exists(ctx context.Context, key string) (bool, error) { return false, nil }
func (nullStore) Delete(ctx context.Context, key string) error         { return nil }
func (nullStore) PublicURL(key string) string                          { return "" }
func (nullStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://signed.example.com/" + key, nil
}

var _ stores.Store = nullStore{}

type testEnv struct {
	db          *gorm.DB
	engine      *gin.Engine
	transcriber *fakeStage
	analyzer    *fakeStage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	config.GlobalConfig = &config.Config{
		APIPrefix:  "/api",
		UploadRate: "1000-S",
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.VideoRecord{}))
	t.Cleanup(func() { signals.Sig().Disconnect(models.SigVideoStatusChanged) })

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	transcriber := &fakeStage{}
	analyzer := &fakeStage{}
	runner := pipeline.NewRunner(transcriber, analyzer, quiet)
	up := uploader.New(db, nullStore{}, runner, 0, quiet)
	watcher := statussync.New(db, runner, nil, time.Second, quiet)
	hub := sse.NewHub(time.Minute)

	engine := gin.New()
	h := NewHandlers(db, up, transcriber, analyzer, watcher, hub)
	h.Register(engine)

	return &testEnv{db: db, engine: engine, transcriber: transcriber, analyzer: analyzer}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seed(t *testing.T, status models.Status) *models.VideoRecord {
	t.Helper()
	rec := &models.VideoRecord{
		ID:        uuid.NewString(),
		OwnerID:   "owner-1",
		PublicURL: "https://cdn.example.com/v/clip.webm",
	}
	require.NoError(t, models.CreateVideoRecord(e.db, rec))
	if status != models.StatusUploaded {
		require.NoError(t, e.db.Model(rec).Update("status", status).Error)
	}
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestInvokeTranscription(t *testing.T) {
	t.Run("success shape", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.seed(t, models.StatusUploaded)

		resp := env.do(t, http.MethodPost, "/api/videos/"+rec.ID+"/transcribe", nil, nil)
		require.Equal(t, http.StatusOK, resp.Code)

		body := decode(t, resp)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, rec.ID, body["video_id"])
		assert.NotEmpty(t, body["message"])
		assert.Equal(t, 1, env.transcriber.calls)
	})

	t.Run("missing record is 404", func(t *testing.T) {
		env := newTestEnv(t)
		env.transcriber.err = pipeline.NotFoundError("nope")

		resp := env.do(t, http.MethodPost, "/api/videos/nope/transcribe", nil, nil)
		require.Equal(t, http.StatusNotFound, resp.Code)

		body := decode(t, resp)
		assert.NotEmpty(t, body["error"])
		assert.NotEmpty(t, body["details"])
	})

	t.Run("claim conflict is 409", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.seed(t, models.StatusUploaded)
		env.transcriber.err = pipeline.ClaimConflictError(rec.ID)

		resp := env.do(t, http.MethodPost, "/api/videos/"+rec.ID+"/transcribe", nil, nil)
		assert.Equal(t, http.StatusConflict, resp.Code)
	})

	t.Run("provider failure is 500", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.seed(t, models.StatusUploaded)
		env.transcriber.err = pipeline.TranscriptionError(fmt.Errorf("upstream down"))

		resp := env.do(t, http.MethodPost, "/api/videos/"+rec.ID+"/transcribe", nil, nil)
		require.Equal(t, http.StatusInternalServerError, resp.Code)
		body := decode(t, resp)
		assert.Contains(t, body["details"], "upstream down")
	})
}

func TestInvokeAnalysis(t *testing.T) {
	t.Run("success shape", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.seed(t, models.StatusTranscribed)

		resp := env.do(t, http.MethodPost, "/api/videos/"+rec.ID+"/analyze", nil, nil)
		require.Equal(t, http.StatusOK, resp.Code)
		body := decode(t, resp)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, 1, env.analyzer.calls)
	})

	t.Run("missing transcript is 400", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.seed(t, models.StatusUploaded)
		env.analyzer.err = pipeline.PreconditionError(rec.ID)

		resp := env.do(t, http.MethodPost, "/api/videos/"+rec.ID+"/analyze", nil, nil)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	// 分析失败不吞掉转写成果：响应里带上记录仍是 transcribed
	t.Run("failure reports preserved status", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.seed(t, models.StatusTranscribed)
		env.analyzer.err = pipeline.AnalysisError(nil, "model returned garbage")

		resp := env.do(t, http.MethodPost, "/api/videos/"+rec.ID+"/analyze", nil, nil)
		require.Equal(t, http.StatusInternalServerError, resp.Code)
		body := decode(t, resp)
		assert.NotEmpty(t, body["error"])
		assert.Equal(t, string(models.StatusTranscribed), body["status"])
	})
}

func TestGetVideo(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed(t, models.StatusUploaded)

	resp := env.do(t, http.MethodGet, "/api/videos/"+rec.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	body := decode(t, resp)
	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, rec.ID, data["id"])
	assert.Equal(t, string(models.StatusUploaded), data["status"])

	resp = env.do(t, http.MethodGet, "/api/videos/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestListVideos(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, models.StatusUploaded)
	env.seed(t, models.StatusTranscribed)

	resp := env.do(t, http.MethodGet, "/api/videos?owner_id=owner-1", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	body := decode(t, resp)
	data, ok := body["data"].([]any)
	require.True(t, ok)
	assert.Len(t, data, 2)

	resp = env.do(t, http.MethodGet, "/api/videos", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRetryVideo(t *testing.T) {
	t.Run("error record is accepted", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.seed(t, models.StatusError)

		resp := env.do(t, http.MethodPost, "/api/videos/"+rec.ID+"/retry", nil, nil)
		require.Equal(t, http.StatusAccepted, resp.Code)
		body := decode(t, resp)
		assert.Equal(t, true, body["success"])
	})

	t.Run("non-error record is rejected", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.seed(t, models.StatusUploaded)

		resp := env.do(t, http.MethodPost, "/api/videos/"+rec.ID+"/retry", nil, nil)
		assert.Equal(t, http.StatusConflict, resp.Code)
	})

	t.Run("missing record is 404", func(t *testing.T) {
		env := newTestEnv(t)
		resp := env.do(t, http.MethodPost, "/api/videos/missing/retry", nil, nil)
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func TestUploadVideo(t *testing.T) {
	buildForm := func(t *testing.T, filename string, payload []byte) (*bytes.Buffer, string) {
		t.Helper()
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("media", filename)
		require.NoError(t, err)
		_, err = fw.Write(payload)
		require.NoError(t, err)
		require.NoError(t, mw.Close())
		return &buf, mw.FormDataContentType()
	}

	t.Run("accepts a webm upload", func(t *testing.T) {
		env := newTestEnv(t)
		body, contentType := buildForm(t, "clip.webm", []byte("binary"))

		resp := env.do(t, http.MethodPost, "/api/videos", body, map[string]string{
			"Content-Type": contentType,
			"X-Owner-ID":   "owner-1",
		})
		require.Equal(t, http.StatusCreated, resp.Code)

		out := decode(t, resp)
		data, ok := out["data"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, string(models.StatusUploaded), data["status"])
		assert.Equal(t, "owner-1", data["owner_id"])
	})

	t.Run("rejects missing owner", func(t *testing.T) {
		env := newTestEnv(t)
		body, contentType := buildForm(t, "clip.webm", []byte("binary"))

		resp := env.do(t, http.MethodPost, "/api/videos", body, map[string]string{
			"Content-Type": contentType,
		})
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("rejects disallowed formats", func(t *testing.T) {
		env := newTestEnv(t)
		body, contentType := buildForm(t, "payload.exe", []byte("mz"))

		resp := env.do(t, http.MethodPost, "/api/videos", body, map[string]string{
			"Content-Type": contentType,
			"X-Owner-ID":   "owner-1",
		})
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})
}
