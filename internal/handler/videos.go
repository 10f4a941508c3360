package handlers

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"ClipInsight/internal/models"
	"ClipInsight/internal/pipeline"
	"ClipInsight/internal/uploader"
	errs "ClipInsight/pkg/errors"
	"ClipInsight/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UploadVideo 接收 multipart 媒体文件，落库后异步启动流水线
func (h *Handlers) UploadVideo(c *gin.Context) {
	ownerID := c.GetHeader("X-Owner-ID")
	if ownerID == "" {
		ownerID = c.PostForm("owner_id")
	}
	if ownerID == "" {
		response.FailWithStatus(c, http.StatusBadRequest, "owner_id is required", nil)
		return
	}

	file, header, err := c.Request.FormFile("media")
	if err != nil {
		response.FailWithStatus(c, http.StatusBadRequest, "media file is required", nil)
		return
	}
	format := c.PostForm("format")
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	}

	rec, err := h.uploader.Upload(c.Request.Context(), ownerID, uploader.ReaderSource{
		Reader: file,
		Format: format,
	})
	if err != nil {
		response.FailWithStatus(c, uploadStatusFor(err), errs.GetMessage(err), gin.H{"details": err.Error()})
		return
	}
	response.Created(c, "video uploaded", rec.View())
}

// GetVideo 返回记录当前快照
func (h *Handlers) GetVideo(c *gin.Context) {
	view, err := h.watcher.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FailWithStatus(c, statusFor(err), errs.GetMessage(err), nil)
		return
	}
	response.Success(c, "ok", view)
}

// ListVideos 按 owner 列出记录，最近更新在前
func (h *Handlers) ListVideos(c *gin.Context) {
	ownerID := c.Query("owner_id")
	if ownerID == "" {
		ownerID = c.GetHeader("X-Owner-ID")
	}
	if ownerID == "" {
		response.FailWithStatus(c, http.StatusBadRequest, "owner_id is required", nil)
		return
	}
	records, err := models.ListVideoRecordsByOwner(h.getDB(c), ownerID)
	if err != nil {
		response.FailWithStatus(c, http.StatusInternalServerError, "list failed", nil)
		return
	}
	views := make([]models.VideoRecordView, 0, len(records))
	for i := range records {
		views = append(views, records[i].View())
	}
	response.Success(c, "ok", views)
}

// InvokeTranscription 同步执行转写阶段，响应体固定为
// {success, message, video_id} 或 {error, details}
func (h *Handlers) InvokeTranscription(c *gin.Context) {
	videoID := c.Param("id")
	if err := h.transcriber.Process(c.Request.Context(), videoID); err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":   errs.GetMessage(err),
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "transcription completed",
		"video_id": videoID,
	})
}

// InvokeAnalysis 同步执行分析阶段。分析失败不回退状态，响应里带上
// 记录当前状态，让调用方看到转写成果仍然可用
func (h *Handlers) InvokeAnalysis(c *gin.Context) {
	videoID := c.Param("id")
	if err := h.analyzer.Process(c.Request.Context(), videoID); err != nil {
		body := gin.H{
			"error":   errs.GetMessage(err),
			"details": err.Error(),
		}
		if rec, gerr := models.GetVideoRecord(h.getDB(c), videoID); gerr == nil {
			body["status"] = rec.Status
		}
		c.JSON(statusFor(err), body)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "analysis completed",
		"video_id": videoID,
	})
}

// RetryVideo 只接受 error 状态的记录，重新异步走完整流水线
func (h *Handlers) RetryVideo(c *gin.Context) {
	videoID := c.Param("id")
	if err := h.watcher.Retry(c.Request.Context(), videoID); err != nil {
		status := statusFor(err)
		if errors.Is(err, models.ErrInvalidState) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{
			"error":   errs.GetMessage(err),
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"success":  true,
		"message":  "retry scheduled",
		"video_id": videoID,
	})
}

// StreamVideoEvents 按视频分组推送状态变更事件
func (h *Handlers) StreamVideoEvents(c *gin.Context) {
	videoID := c.Param("id")
	if _, err := models.GetVideoRecord(h.getDB(c), videoID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.FailWithStatus(c, http.StatusNotFound, "video record not found", nil)
			return
		}
		response.FailWithStatus(c, http.StatusInternalServerError, "lookup failed", nil)
		return
	}
	h.hub.Serve(c, uuid.NewString(), videoID)
}

// statusFor 处理触发接口的错误码映射：缺记录 404、调用方式错误 400、
// 其余处理失败（含大小/格式违规和提供商错误）一律 500
func statusFor(err error) int {
	switch errs.GetCode(err) {
	case pipeline.CodeNotFound:
		return http.StatusNotFound
	case pipeline.CodePrecondition:
		return http.StatusBadRequest
	case pipeline.CodeClaimConflict:
		return http.StatusConflict
	case pipeline.CodePermission:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// uploadStatusFor 上传侧的校验失败属于请求本身不合格，映射到 400
func uploadStatusFor(err error) int {
	switch errs.GetCode(err) {
	case pipeline.CodeInvalidMedia, pipeline.CodeEmptyMedia, pipeline.CodeSizeLimit:
		return http.StatusBadRequest
	default:
		return statusFor(err)
	}
}
