package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"nebulaktv/core/pipeline"
	"nebulaktv/logger"
	"nebulaktv/model"
)

// ExtractStep probes the uploaded source and extracts its audio track.
// It reports the source itself as the primary video artifact.
type ExtractStep struct {
	ffmpeg  *FFmpegProcessor
	bitrate string
}

func NewExtractStep(ffmpeg *FFmpegProcessor) *ExtractStep {
	return &ExtractStep{ffmpeg: ffmpeg, bitrate: "320k"}
}

func (s *ExtractStep) Name() string { return "extract" }

func (s *ExtractStep) Run(ctx context.Context, in pipeline.StepInput) ([]pipeline.Artifact, error) {
	probe, err := s.ffmpeg.Probe(ctx, in.Source)
	if err != nil {
		return nil, classify(s.Name(), err)
	}
	if probe.Audio == nil {
		return nil, pipeline.Fatal(s.Name(), errors.New("source has no audio stream"))
	}

	out := in.Outputs[model.KindOriginalAudio]
	if err := s.ffmpeg.ExtractAudio(ctx, in.Source, out, s.bitrate); err != nil {
		return nil, classify(s.Name(), err)
	}

	audioMeta := model.AssetMeta{}
	if outProbe, err := s.ffmpeg.Probe(ctx, out); err == nil {
		audioMeta = outProbe.AudioMeta()
	} else {
		logger.Warn("无法读取提取音频的元数据", logger.String("path", out), logger.ErrorField(err))
	}

	logger.Info("音频提取完成",
		logger.Stringer("songId", in.SongID),
		logger.Float64("duration", probe.Duration))

	return []pipeline.Artifact{
		{Kind: model.KindPrimaryVideo, Path: in.Source, Meta: probe.VideoMeta()},
		{Kind: model.KindOriginalAudio, Path: out, Meta: audioMeta},
	}, nil
}

// CommandStep runs an external model (vocal separation, transcription) as a
// command line. Placeholders in the template are replaced per job:
//
//	{input}       input audio file
//	{output_dir}  directory for generated files
//	{inst} {vocal} {vtt} {words} {waveform}  expected output paths
//
// The program signals a retryable failure by exiting with status 75.
type CommandStep struct {
	name     string
	argv     []string
	input    func(in pipeline.StepInput) string
	produces []model.AssetKind
	runner   Runner
	prober   *FFmpegProcessor
}

var placeholders = map[string]model.AssetKind{
	"{inst}":     model.KindInstrumentalAudio,
	"{vocal}":    model.KindVocalAudio,
	"{vtt}":      model.KindTimedLyrics,
	"{words}":    model.KindWordAlignedLyrics,
	"{waveform}": model.KindWaveformData,
}

// NewSeparationStep splits the original audio into instrumental and vocal stems.
func NewSeparationStep(command string, runner Runner, prober *FFmpegProcessor) *CommandStep {
	return &CommandStep{
		name:     "separate",
		argv:     strings.Fields(command),
		input:    func(in pipeline.StepInput) string { return in.Outputs[model.KindOriginalAudio] },
		produces: []model.AssetKind{model.KindInstrumentalAudio, model.KindVocalAudio},
		runner:   runner,
		prober:   prober,
	}
}

// NewTranscriptionStep generates timed lyrics, preferring the vocal stem.
func NewTranscriptionStep(command string, runner Runner) *CommandStep {
	return &CommandStep{
		name: "transcribe",
		argv: strings.Fields(command),
		input: func(in pipeline.StepInput) string {
			if vocal := in.Outputs[model.KindVocalAudio]; fileExists(vocal) {
				return vocal
			}
			return in.Outputs[model.KindOriginalAudio]
		},
		produces: []model.AssetKind{model.KindTimedLyrics, model.KindWordAlignedLyrics},
		runner:   runner,
	}
}

func (s *CommandStep) Name() string { return s.name }

// Enabled reports whether a command was configured.
func (s *CommandStep) Enabled() bool { return len(s.argv) > 0 }

func (s *CommandStep) Run(ctx context.Context, in pipeline.StepInput) ([]pipeline.Artifact, error) {
	if !s.Enabled() {
		logger.Warn("未配置外部命令，跳过处理步骤", logger.String("step", s.name), logger.Stringer("songId", in.SongID))
		return nil, nil
	}

	input := s.input(in)
	if !fileExists(input) {
		return nil, pipeline.Fatal(s.name, fmt.Errorf("input %s does not exist", filepath.Base(input)))
	}

	args := expand(s.argv[1:], input, in)
	logger.Info("执行外部处理命令",
		logger.String("step", s.name),
		logger.Stringer("songId", in.SongID),
		logger.String("cmd", s.argv[0]+" "+strings.Join(args, " ")))

	if _, err := s.runner.Run(ctx, s.argv[0], args...); err != nil {
		return nil, classify(s.name, err)
	}

	var artifacts []pipeline.Artifact
	for _, kind := range s.produces {
		p := in.Outputs[kind]
		if !fileExists(p) {
			logger.Warn("外部命令未生成预期文件", logger.String("step", s.name), logger.String("kind", string(kind)))
			continue
		}
		meta := model.AssetMeta{}
		if s.prober != nil && strings.HasSuffix(p, ".mp3") {
			if probe, err := s.prober.Probe(ctx, p); err == nil {
				meta = probe.AudioMeta()
			}
		}
		artifacts = append(artifacts, pipeline.Artifact{Kind: kind, Path: p, Meta: meta})
	}
	if len(artifacts) == 0 {
		return nil, pipeline.Fatal(s.name, errors.New("command produced no output"))
	}
	return artifacts, nil
}

func expand(args []string, input string, in pipeline.StepInput) []string {
	out := make([]string, len(args))
	for i, a := range args {
		a = strings.ReplaceAll(a, "{input}", input)
		if dir, ok := in.Outputs[model.KindOriginalAudio]; ok {
			a = strings.ReplaceAll(a, "{output_dir}", filepath.Dir(dir))
		}
		for ph, kind := range placeholders {
			if p, ok := in.Outputs[kind]; ok {
				a = strings.ReplaceAll(a, ph, p)
			}
		}
		out[i] = a
	}
	return out
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
