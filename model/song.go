package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SongStatus 歌曲处理状态
type SongStatus string

const (
	StatusPending    SongStatus = "PENDING"
	StatusProcessing SongStatus = "PROCESSING"
	StatusReady      SongStatus = "READY"
	StatusPartial    SongStatus = "PARTIAL" // 预留，当前流程不会产生
	StatusFailed     SongStatus = "FAILED"
)

var songStatuses = map[SongStatus]struct{}{
	StatusPending:    {},
	StatusProcessing: {},
	StatusReady:      {},
	StatusPartial:    {},
	StatusFailed:     {},
}

// ParseSongStatus 校验并返回状态值
func ParseSongStatus(s string) (SongStatus, error) {
	st := SongStatus(s)
	if _, ok := songStatuses[st]; !ok {
		return "", fmt.Errorf("unknown song status %q", s)
	}
	return st, nil
}

func (s SongStatus) IsTerminal() bool {
	return s == StatusReady || s == StatusPartial || s == StatusFailed
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Writing the current status again is always allowed so redelivered jobs are no-ops.
// A terminal song may re-enter PROCESSING on re-submission.
func (s SongStatus) CanTransitionTo(next SongStatus) bool {
	if s == next {
		return true
	}
	switch next {
	case StatusProcessing:
		return true
	case StatusReady, StatusPartial, StatusFailed:
		return s == StatusProcessing
	default:
		return false
	}
}

// MetaErrorKey 元数据中保留给最近一次失败原因的键
const MetaErrorKey = "error"

// SongMeta 歌曲辅助元数据，JSON 列
type SongMeta map[string]interface{}

// Scan 实现 sql.Scanner 接口
func (m *SongMeta) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported meta_json type %T", value)
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*m = nil
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// Value 实现 driver.Valuer 接口
func (m SongMeta) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// ErrorMessage returns the recorded failure reason, if any.
func (m SongMeta) ErrorMessage() string {
	if m == nil {
		return ""
	}
	if s, ok := m[MetaErrorKey].(string); ok {
		return s
	}
	return ""
}

// Song 歌曲。入库由上传流程负责，处理流程只修改 Status 与 MetaJSON
type Song struct {
	ID        uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	Title     string     `json:"title" gorm:"size:255;not null;default:''"`
	Artist    string     `json:"artist" gorm:"size:255;not null;default:''"`
	Status    SongStatus `json:"status" gorm:"size:20;not null;default:'PENDING';index"`
	MetaJSON  SongMeta   `json:"metaJson" gorm:"column:meta_json;type:json"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// TableName 指定表名
func (Song) TableName() string {
	return "songs"
}
