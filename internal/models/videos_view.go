package models

import "time"

// VideoRecordView 记录的对外表示，JSON 列展开为结构化字段
type VideoRecordView struct {
	ID                 string              `json:"id"`
	OwnerID            string              `json:"owner_id"`
	PublicURL          string              `json:"public_url,omitempty"`
	StoragePath        string              `json:"storage_path,omitempty"`
	Format             string              `json:"format,omitempty"`
	SizeBytes          int64               `json:"size_bytes,omitempty"`
	Status             Status              `json:"status"`
	TranscriptText     *string             `json:"transcript_text"`
	TranscriptSegments []TranscriptSegment `json:"transcript_segments"`
	TranscriptLanguage string              `json:"transcript_language,omitempty"`
	Analysis           *Analysis           `json:"analysis"`
	ErrorMessage       string              `json:"error_message,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// View 构造对外表示。序列化异常按缺失处理而不是报错，读路径不应失败。
func (v *VideoRecord) View() VideoRecordView {
	segments, _ := v.Segments()
	analysis, _ := v.Analysis()
	return VideoRecordView{
		ID:                 v.ID,
		OwnerID:            v.OwnerID,
		PublicURL:          v.PublicURL,
		StoragePath:        v.StoragePath,
		Format:             v.Format,
		SizeBytes:          v.SizeBytes,
		Status:             v.Status,
		TranscriptText:     v.TranscriptText,
		TranscriptSegments: segments,
		TranscriptLanguage: v.TranscriptLanguage,
		Analysis:           analysis,
		ErrorMessage:       v.ErrorMessage,
		CreatedAt:          v.CreatedAt,
		UpdatedAt:          v.UpdatedAt,
	}
}
