package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AssetKind 媒体资源类型
type AssetKind string

const (
	KindPrimaryVideo      AssetKind = "video_master"
	KindOriginalAudio     AssetKind = "audio_original"
	KindInstrumentalAudio AssetKind = "audio_inst"
	KindVocalAudio        AssetKind = "audio_vocal"
	KindTimedLyrics       AssetKind = "lyrics_vtt"
	KindWordAlignedLyrics AssetKind = "lyrics_word_level"
	KindWaveformData      AssetKind = "waveform_json"
)

// AllAssetKinds lists the closed set in a stable order.
var AllAssetKinds = []AssetKind{
	KindPrimaryVideo,
	KindOriginalAudio,
	KindInstrumentalAudio,
	KindVocalAudio,
	KindTimedLyrics,
	KindWordAlignedLyrics,
	KindWaveformData,
}

// MandatoryAssetKinds 一首歌可以播放前必须具备的资源
var MandatoryAssetKinds = []AssetKind{
	KindPrimaryVideo,
	KindOriginalAudio,
	KindInstrumentalAudio,
}

func (k AssetKind) Valid() bool {
	for _, known := range AllAssetKinds {
		if k == known {
			return true
		}
	}
	return false
}

func ParseAssetKind(s string) (AssetKind, error) {
	k := AssetKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown asset kind %q", s)
	}
	return k, nil
}

// AssetMeta 可选的技术元数据，零值字段表示未知
type AssetMeta struct {
	FileSize   *int64                 `json:"fileSize,omitempty"`
	Duration   *float64               `json:"duration,omitempty"`
	Codec      *string                `json:"codec,omitempty"`
	Bitrate    *int                   `json:"bitrate,omitempty"`
	Resolution *string                `json:"resolution,omitempty"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
}

// MediaAsset 歌曲的一个媒体文件记录，登记后不再原地修改
type MediaAsset struct {
	ID         uuid.UUID         `json:"id" gorm:"type:char(36);primaryKey"`
	SongID     uuid.UUID         `json:"songId" gorm:"type:char(36);not null;index:idx_media_assets_song_kind,priority:1"`
	Kind       AssetKind         `json:"kind" gorm:"size:30;not null;index:idx_media_assets_song_kind,priority:2"`
	Path       string            `json:"path" gorm:"size:1024;not null"`
	FileSize   *int64            `json:"fileSize,omitempty"`
	Duration   *float64          `json:"duration,omitempty"`
	Codec      *string           `json:"codec,omitempty" gorm:"size:50"`
	Bitrate    *int              `json:"bitrate,omitempty"`
	Resolution *string           `json:"resolution,omitempty" gorm:"size:20"`
	Extra      datatypes.JSONMap `json:"extra,omitempty" gorm:"type:json"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// TableName 指定表名
func (MediaAsset) TableName() string {
	return "media_assets"
}

// ApplyMeta copies optional technical metadata onto the record.
func (a *MediaAsset) ApplyMeta(meta AssetMeta) {
	a.FileSize = meta.FileSize
	a.Duration = meta.Duration
	a.Codec = meta.Codec
	a.Bitrate = meta.Bitrate
	a.Resolution = meta.Resolution
	if len(meta.Extra) > 0 {
		a.Extra = datatypes.JSONMap(meta.Extra)
	}
}
