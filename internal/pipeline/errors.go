package pipeline

import (
	errs "ClipInsight/pkg/errors"
)

// 流水线错误码。转写侧的失败都会落盘为 error 状态并可重试，
// 分析侧的失败只在本地消化，不回写记录。
const (
	CodeConfiguration = 1001 // 缺少凭证或环境配置，进程启动即失败
	CodeNotFound      = 1002 // 视频记录不存在
	CodeAccess        = 1003 // 定位符缺失或签名失败
	CodeDownload      = 1004 // 二进制拉取失败
	CodeEmptyMedia    = 1005 // 空载荷
	CodeSizeLimit     = 1006 // 超过提供商硬限制
	CodeTranscription = 1007 // 语音识别提供商失败
	CodePrecondition  = 1008 // 转写未完成就触发分析，属于上游调度缺陷
	CodeAnalysis      = 1009 // 分析提供商失败或结果不可解析
	CodePersistence   = 1010 // 记录写入失败
	CodePermission    = 1011 // 采集设备权限被拒
	CodeClaimConflict = 1012 // 已有在途处理尝试
	CodeInvalidMedia  = 1013 // 容器格式不在允许列表
)

func ConfigurationError(message string) error {
	return errs.WithCode(CodeConfiguration, message)
}

func NotFoundError(videoID string) error {
	return errs.WithCodef(CodeNotFound, "video record %s not found", videoID)
}

func AccessError(err error, message string) error {
	if err == nil {
		return errs.WithCode(CodeAccess, message)
	}
	return errs.WrapCode(CodeAccess, err, message)
}

func DownloadError(status int, url string) error {
	return errs.WithCodef(CodeDownload, "download failed with HTTP %d for %s", status, url)
}

func DownloadErrorFrom(err error) error {
	return errs.WrapCode(CodeDownload, err, "media download failed")
}

func EmptyMediaError() error {
	return errs.WithCode(CodeEmptyMedia, "media payload is empty (0 bytes)")
}

func SizeLimitError(size, limit int64) error {
	return errs.WithCodef(CodeSizeLimit, "media size %d bytes exceeds the %d MiB provider limit", size, limit>>20)
}

func TranscriptionError(err error) error {
	return errs.WrapCode(CodeTranscription, err, "transcription provider failed")
}

func PreconditionError(videoID string) error {
	return errs.WithCodef(CodePrecondition, "video %s has no transcript yet", videoID)
}

func AnalysisError(err error, message string) error {
	if err == nil {
		return errs.WithCode(CodeAnalysis, message)
	}
	return errs.WrapCode(CodeAnalysis, err, message)
}

func PersistenceError(err error) error {
	return errs.WrapCode(CodePersistence, err, "record update failed")
}

func PermissionError(err error) error {
	return errs.WrapCode(CodePermission, err, "media capture permission denied")
}

func ClaimConflictError(videoID string) error {
	return errs.WithCodef(CodeClaimConflict, "video %s is already being processed", videoID)
}

func InvalidMediaError(format string) error {
	return errs.WithCodef(CodeInvalidMedia, "media format %q is not allowed", format)
}

// IsCode 判断错误链上是否携带指定错误码
func IsCode(err error, code int) bool {
	return errs.HasCode(err, code)
}
