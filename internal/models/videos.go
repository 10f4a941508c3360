package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ClipInsight/pkg/signals"

	"gorm.io/gorm"
)

// Status 视频记录生命周期状态
type Status string

const (
	StatusUploaded    Status = "uploaded"    // 二进制已入库，未开始处理
	StatusProcessing  Status = "processing"  // 转写进行中
	StatusTranscribed Status = "transcribed" // 转写完成，分析可开始
	StatusAnalyzed    Status = "analyzed"    // 分析完成，流水线终态
	StatusError       Status = "error"       // 处理失败，等待重试
)

// SigVideoStatusChanged 状态变更信号，sender 为 *VideoRecord
const SigVideoStatusChanged = "video:status_changed"

var (
	// ErrClaimConflict 记录已被其他处理尝试占用
	ErrClaimConflict = errors.New("video record already claimed")
	// ErrStaleClaim 占用令牌已失效，本次写入被丢弃
	ErrStaleClaim = errors.New("processing token no longer matches")
	// ErrInvalidState 当前状态不允许该操作
	ErrInvalidState = errors.New("operation not allowed in current status")
)

// CanTransition 定义状态机的合法边
func CanTransition(from, to Status) bool {
	switch from {
	case StatusUploaded:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusTranscribed || to == StatusError
	case StatusTranscribed:
		return to == StatusAnalyzed
	case StatusAnalyzed:
		return false
	case StatusError:
		return to == StatusProcessing
	default:
		return false
	}
}

// ValidateTransition 校验状态迁移，自迁移视为空操作
func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition: %s -> %s: %w", from, to, ErrInvalidState)
	}
	return nil
}

// TranscriptSegment 带时间对齐的转写片段
type TranscriptSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Evaluation 表达清晰度与结构性的数值评估
type Evaluation struct {
	Clarity   float64 `json:"clarity"`
	Structure float64 `json:"structure"`
}

// Analysis 大模型产出的结构化分析结果
type Analysis struct {
	Summary     string     `json:"summary"`
	KeyPoints   []string   `json:"key_points"`
	Evaluation  Evaluation `json:"evaluation"`
	Suggestions []string   `json:"suggestions"`
	Strengths   []string   `json:"strengths"`
}

// VideoRecord 每次拍摄会话对应一条记录，是流水线状态的唯一事实来源
type VideoRecord struct {
	ID          string `gorm:"primaryKey;size:64"` // 创建方分配的不透明ID
	OwnerID     string `gorm:"size:64;index"`
	PublicURL   string `gorm:"size:1024"` // 稳定公开链接，可为空
	StoragePath string `gorm:"size:1024"` // 对象存储路径，需签名解析
	Format      string `gorm:"size:32"`   // e.g. "webm", "mp4"
	SizeBytes   int64

	Status          Status `gorm:"size:32;index"`
	ProcessingToken string `gorm:"size:64"` // 当前占用令牌，空表示无人占用
	ClaimedAt       *time.Time

	TranscriptText     *string `gorm:"type:text"`
	TranscriptSegments string  `gorm:"type:text"` // JSON 序列化的 []TranscriptSegment
	TranscriptLanguage string  `gorm:"size:16"`
	AnalysisJSON       *string `gorm:"column:analysis;type:text"` // JSON 序列化的 Analysis
	ErrorMessage       string  `gorm:"type:text"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (VideoRecord) TableName() string { return "video_records" }

// HasLocator 记录至少携带一种可解析的定位方式
func (v *VideoRecord) HasLocator() bool {
	return v.PublicURL != "" || v.StoragePath != ""
}

// Segments 反序列化转写片段，字段为空时返回空切片
func (v *VideoRecord) Segments() ([]TranscriptSegment, error) {
	if v.TranscriptSegments == "" {
		return nil, nil
	}
	var segments []TranscriptSegment
	if err := json.Unmarshal([]byte(v.TranscriptSegments), &segments); err != nil {
		return nil, err
	}
	return segments, nil
}

// Analysis 反序列化分析结果，未分析时返回 nil
func (v *VideoRecord) Analysis() (*Analysis, error) {
	if v.AnalysisJSON == nil || *v.AnalysisJSON == "" {
		return nil, nil
	}
	var a Analysis
	if err := json.Unmarshal([]byte(*v.AnalysisJSON), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateVideoRecord 上传完成后落库初始记录，状态固定为 uploaded
func CreateVideoRecord(db *gorm.DB, rec *VideoRecord) error {
	if rec.ID == "" || rec.OwnerID == "" {
		return fmt.Errorf("id and owner are required: %w", ErrInvalidState)
	}
	if !rec.HasLocator() {
		return fmt.Errorf("record needs a public url or storage path: %w", ErrInvalidState)
	}
	rec.Status = StatusUploaded
	if err := db.Create(rec).Error; err != nil {
		return err
	}
	emitStatusChange(rec, "", StatusUploaded)
	return nil
}

// GetVideoRecord 按ID读取，未找到时返回 gorm.ErrRecordNotFound
func GetVideoRecord(db *gorm.DB, id string) (*VideoRecord, error) {
	var rec VideoRecord
	if err := db.First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListVideoRecordsByOwner 按创建时间倒序返回某个用户的全部记录
func ListVideoRecordsByOwner(db *gorm.DB, ownerID string) ([]VideoRecord, error) {
	var recs []VideoRecord
	if err := db.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// ClaimForProcessing 以条件更新原子占用记录：只有 uploaded/error 状态能进入
// processing，保证同一视频至多一个在途转写尝试。重试进入时清空 error_message。
func ClaimForProcessing(db *gorm.DB, id, token string) (*VideoRecord, error) {
	now := time.Now().UTC()
	res := db.Model(&VideoRecord{}).
		Where("id = ? AND status IN ?", id, []Status{StatusUploaded, StatusError}).
		Updates(map[string]interface{}{
			"status":           StatusProcessing,
			"processing_token": token,
			"claimed_at":       now,
			"error_message":    "",
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// 区分 不存在 与 已被占用
		if _, err := GetVideoRecord(db, id); err != nil {
			return nil, err
		}
		return nil, ErrClaimConflict
	}

	rec, err := GetVideoRecord(db, id)
	if err != nil {
		return nil, err
	}
	// 占用可能来自 uploaded 或 error，事件只保证 to 的准确性
	emitStatusChange(rec, "", StatusProcessing)
	return rec, nil
}

// MarkTranscribed 一次写入落盘全部转写字段并推进状态。令牌不匹配说明本次
// 尝试已被新的占用取代，写入被丢弃。
func MarkTranscribed(db *gorm.DB, id, token, text, language string, segments []TranscriptSegment) error {
	segJSON, err := json.Marshal(segments)
	if err != nil {
		return err
	}
	res := db.Model(&VideoRecord{}).
		Where("id = ? AND status = ? AND processing_token = ?", id, StatusProcessing, token).
		Updates(map[string]interface{}{
			"status":              StatusTranscribed,
			"transcript_text":     text,
			"transcript_segments": string(segJSON),
			"transcript_language": language,
			"processing_token":    "",
			"claimed_at":          nil,
			"error_message":       "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleClaim
	}
	if rec, err := GetVideoRecord(db, id); err == nil {
		emitStatusChange(rec, StatusProcessing, StatusTranscribed)
	}
	return nil
}

// MarkProcessingFailed 转写失败的唯一终态写入，同样受令牌保护
func MarkProcessingFailed(db *gorm.DB, id, token, message string) error {
	res := db.Model(&VideoRecord{}).
		Where("id = ? AND status = ? AND processing_token = ?", id, StatusProcessing, token).
		Updates(map[string]interface{}{
			"status":           StatusError,
			"error_message":    message,
			"processing_token": "",
			"claimed_at":       nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleClaim
	}
	if rec, err := GetVideoRecord(db, id); err == nil {
		emitStatusChange(rec, StatusProcessing, StatusError)
	}
	return nil
}

// MarkAnalyzed 分析成功后的终态写入，只允许从 transcribed 推进
func MarkAnalyzed(db *gorm.DB, id string, analysis *Analysis) error {
	raw, err := json.Marshal(analysis)
	if err != nil {
		return err
	}
	res := db.Model(&VideoRecord{}).
		Where("id = ? AND status = ?", id, StatusTranscribed).
		Updates(map[string]interface{}{
			"status":   StatusAnalyzed,
			"analysis": string(raw),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidState
	}
	if rec, err := GetVideoRecord(db, id); err == nil {
		emitStatusChange(rec, StatusTranscribed, StatusAnalyzed)
	}
	return nil
}

// ReclaimStaleProcessing 将占用超时的 processing 记录打回 error，使重试成为可能。
// 对应的在途尝试即使之后完成，其令牌已被清空，晚到的写入会被丢弃。
func ReclaimStaleProcessing(db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.Model(&VideoRecord{}).
		Where("status = ? AND claimed_at IS NOT NULL AND claimed_at < ?", StatusProcessing, cutoff.UTC()).
		Updates(map[string]interface{}{
			"status":           StatusError,
			"error_message":    "processing timed out and was reclaimed",
			"processing_token": "",
			"claimed_at":       nil,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// CountByStatus 统计各状态的记录数
func CountByStatus(db *gorm.DB) (map[Status]int64, error) {
	type row struct {
		Status Status
		N      int64
	}
	var rows []row
	if err := db.Model(&VideoRecord{}).Select("status, count(*) as n").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[Status]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

func emitStatusChange(rec *VideoRecord, from, to Status) {
	signals.Sig().Emit(SigVideoStatusChanged, rec, from, to)
}
