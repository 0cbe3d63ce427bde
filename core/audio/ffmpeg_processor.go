package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"nebulaktv/logger"
	"nebulaktv/model"
)

// FFmpegProcessor wraps the ffmpeg and ffprobe executables.
type FFmpegProcessor struct {
	ffmpegPath  string
	ffprobePath string
	runner      Runner
}

// NewFFmpegProcessor creates a processor. An empty ffprobePath is derived
// from ffmpegPath.
func NewFFmpegProcessor(ffmpegPath, ffprobePath string, runner Runner) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = strings.Replace(ffmpegPath, "ffmpeg", "ffprobe", 1)
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, runner: runner}
}

// ProbeInfo is the subset of ffprobe output the registry records.
type ProbeInfo struct {
	Duration   float64
	BitRate    int
	FormatName string
	Video      *VideoStream
	Audio      *AudioStream
}

type VideoStream struct {
	Codec  string
	Width  int
	Height int
}

type AudioStream struct {
	Codec      string
	BitRate    int
	SampleRate int
	Channels   int
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		BitRate    string `json:"bit_rate"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

// Probe reads container and first-stream information from inputFile.
func (p *FFmpegProcessor) Probe(ctx context.Context, inputFile string) (*ProbeInfo, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration,bit_rate,format_name:stream=codec_type,codec_name,width,height,bit_rate,sample_rate,channels",
		"-of", "json",
		inputFile,
	}
	out, err := p.runner.Run(ctx, p.ffprobePath, args...)
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", inputFile, err)
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (*ProbeInfo, error) {
	var probeData ffprobeOutput
	if err := json.Unmarshal(out, &probeData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ffprobe output: %w", err)
	}

	info := &ProbeInfo{FormatName: probeData.Format.FormatName}
	if d, err := strconv.ParseFloat(probeData.Format.Duration, 64); err == nil {
		info.Duration = d
	}
	info.BitRate, _ = strconv.Atoi(probeData.Format.BitRate)

	for _, s := range probeData.Streams {
		switch s.CodecType {
		case "video":
			if info.Video == nil {
				info.Video = &VideoStream{Codec: s.CodecName, Width: s.Width, Height: s.Height}
			}
		case "audio":
			if info.Audio == nil {
				br, _ := strconv.Atoi(s.BitRate)
				sr, _ := strconv.Atoi(s.SampleRate)
				info.Audio = &AudioStream{Codec: s.CodecName, BitRate: br, SampleRate: sr, Channels: s.Channels}
			}
		}
	}
	return info, nil
}

// VideoMeta 视频资源的技术元数据
func (i *ProbeInfo) VideoMeta() model.AssetMeta {
	meta := i.baseMeta()
	if i.Video != nil {
		meta.Codec = &i.Video.Codec
		if i.Video.Width > 0 && i.Video.Height > 0 {
			res := fmt.Sprintf("%dx%d", i.Video.Width, i.Video.Height)
			meta.Resolution = &res
		}
	}
	if i.Audio != nil {
		meta.Extra["audio_codec"] = i.Audio.Codec
	}
	return meta
}

// AudioMeta 音频资源的技术元数据
func (i *ProbeInfo) AudioMeta() model.AssetMeta {
	meta := i.baseMeta()
	if i.Audio != nil {
		meta.Codec = &i.Audio.Codec
		if i.Audio.BitRate > 0 {
			br := i.Audio.BitRate
			meta.Bitrate = &br
		}
		if i.Audio.SampleRate > 0 {
			meta.Extra["sample_rate"] = i.Audio.SampleRate
		}
		if i.Audio.Channels > 0 {
			meta.Extra["channels"] = i.Audio.Channels
		}
	}
	return meta
}

func (i *ProbeInfo) baseMeta() model.AssetMeta {
	meta := model.AssetMeta{Extra: map[string]interface{}{}}
	if i.Duration > 0 {
		d := i.Duration
		meta.Duration = &d
	}
	if i.BitRate > 0 {
		br := i.BitRate
		meta.Bitrate = &br
	}
	if i.FormatName != "" {
		meta.Extra["format"] = i.FormatName
	}
	return meta
}

// ExtractAudio decodes the first audio stream of inputFile into an MP3 at
// outputFile, overwriting it.
func (p *FFmpegProcessor) ExtractAudio(ctx context.Context, inputFile, outputFile, bitrate string) error {
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	args := extractArgs(inputFile, outputFile, bitrate)
	logger.Debug("执行 FFmpeg 命令", logger.String("cmd", p.ffmpegPath+" "+strings.Join(args, " ")))

	if _, err := p.runner.Run(ctx, p.ffmpegPath, args...); err != nil {
		return fmt.Errorf("ffmpeg extract %s: %w", inputFile, err)
	}
	return nil
}

func extractArgs(inputFile, outputFile, bitrate string) []string {
	if bitrate == "" {
		bitrate = "320k"
	}
	return []string{
		"-y",
		"-v", "error",
		"-i", inputFile,
		"-vn",
		"-map", "0:a:0",
		"-c:a", "libmp3lame",
		"-b:a", bitrate,
		"-ar", "44100",
		outputFile,
	}
}
