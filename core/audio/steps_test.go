package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"nebulaktv/core/pipeline"
	"nebulaktv/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const videoProbe = `{
  "format": {"duration": "215.480000", "bit_rate": "2412000", "format_name": "mov,mp4,m4a,3gp,3g2,mj2"},
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080},
    {"codec_type": "audio", "codec_name": "aac", "bit_rate": "192000", "sample_rate": "48000", "channels": 2}
  ]
}`

const mp3Probe = `{
  "format": {"duration": "215.460000", "bit_rate": "320000", "format_name": "mp3"},
  "streams": [{"codec_type": "audio", "codec_name": "mp3", "bit_rate": "320000", "sample_rate": "44100", "channels": 2}]
}`

type call struct {
	name string
	args []string
}

// fakeRunner answers ffprobe from a table keyed by file extension and
// "runs" other programs by writing every path argument under outDir.
type fakeRunner struct {
	mu     sync.Mutex
	calls  []call
	probes map[string]string
	err    error
	outDir string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{name: name, args: args})
	f.mu.Unlock()

	if strings.HasSuffix(name, "ffprobe") {
		target := args[len(args)-1]
		if out, ok := f.probes[filepath.Ext(target)]; ok {
			return []byte(out), nil
		}
		return nil, &CommandError{Name: name, ExitCode: 1, Stderr: "Invalid data found when processing input"}
	}
	if f.err != nil {
		return nil, f.err
	}
	for _, a := range args {
		if f.outDir != "" && strings.HasPrefix(a, f.outDir) {
			if err := os.WriteFile(a, []byte("out"), 0644); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

func stepInput(t *testing.T) pipeline.StepInput {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "song.mp4")
	require.NoError(t, os.WriteFile(src, []byte("video"), 0644))
	dir := filepath.Join(root, "processed")
	require.NoError(t, os.MkdirAll(dir, 0755))
	return pipeline.StepInput{
		SongID: uuid.New(),
		Source: src,
		Outputs: map[model.AssetKind]string{
			model.KindOriginalAudio:     filepath.Join(dir, "song_original.mp3"),
			model.KindInstrumentalAudio: filepath.Join(dir, "song_inst.mp3"),
			model.KindVocalAudio:        filepath.Join(dir, "song_vocal.mp3"),
			model.KindTimedLyrics:       filepath.Join(dir, "song.vtt"),
			model.KindWordAlignedLyrics: filepath.Join(dir, "song_words.json"),
		},
	}
}

func TestParseProbe(t *testing.T) {
	info, err := parseProbe([]byte(videoProbe))
	require.NoError(t, err)
	assert.InDelta(t, 215.48, info.Duration, 0.001)
	require.NotNil(t, info.Video)
	require.NotNil(t, info.Audio)

	vm := info.VideoMeta()
	assert.Equal(t, "h264", *vm.Codec)
	assert.Equal(t, "1920x1080", *vm.Resolution)
	assert.Equal(t, 2412000, *vm.Bitrate)
	assert.Equal(t, "aac", vm.Extra["audio_codec"])

	am := info.AudioMeta()
	assert.Equal(t, "aac", *am.Codec)
	assert.Equal(t, 192000, *am.Bitrate)
	assert.Equal(t, 48000, am.Extra["sample_rate"])

	_, err = parseProbe([]byte("not json"))
	assert.Error(t, err)
}

func TestExtractArgs(t *testing.T) {
	args := extractArgs("in.mp4", "out.mp3", "")
	assert.Equal(t, "-y", args[0])
	assert.Contains(t, strings.Join(args, " "), "-i in.mp4 -vn")
	assert.Contains(t, strings.Join(args, " "), "-b:a 320k")
	assert.Equal(t, "out.mp3", args[len(args)-1])
}

func TestNewFFmpegProcessorDerivesProbePath(t *testing.T) {
	p := NewFFmpegProcessor("/opt/ffmpeg/bin/ffmpeg", "", nil)
	assert.Equal(t, "/opt/ffmpeg/bin/ffprobe", p.ffprobePath)
}

func TestExtractStep(t *testing.T) {
	in := stepInput(t)
	runner := &fakeRunner{
		probes: map[string]string{".mp4": videoProbe, ".mp3": mp3Probe},
		outDir: filepath.Dir(in.Outputs[model.KindOriginalAudio]),
	}
	step := NewExtractStep(NewFFmpegProcessor("ffmpeg", "ffprobe", runner))

	artifacts, err := step.Run(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	assert.Equal(t, model.KindPrimaryVideo, artifacts[0].Kind)
	assert.Equal(t, in.Source, artifacts[0].Path)
	assert.Equal(t, "1920x1080", *artifacts[0].Meta.Resolution)

	assert.Equal(t, model.KindOriginalAudio, artifacts[1].Kind)
	assert.Equal(t, "mp3", *artifacts[1].Meta.Codec)
	assert.FileExists(t, artifacts[1].Path)

	require.Len(t, runner.calls, 3)
	assert.Equal(t, "ffmpeg", runner.calls[1].name)
}

func TestExtractStepRejectsUnreadableSource(t *testing.T) {
	in := stepInput(t)
	runner := &fakeRunner{probes: map[string]string{}}
	_, err := NewExtractStep(NewFFmpegProcessor("ffmpeg", "ffprobe", runner)).Run(context.Background(), in)

	var fatal *pipeline.FatalError
	assert.True(t, errors.As(err, &fatal))
	assert.False(t, pipeline.IsTransient(err))
}

func TestExtractStepRequiresAudio(t *testing.T) {
	in := stepInput(t)
	runner := &fakeRunner{probes: map[string]string{".mp4": `{"format":{"duration":"3.0"},"streams":[{"codec_type":"video","codec_name":"h264"}]}`}}
	_, err := NewExtractStep(NewFFmpegProcessor("ffmpeg", "ffprobe", runner)).Run(context.Background(), in)
	assert.EqualError(t, err, "extract: source has no audio stream")
}

func TestSeparationStep(t *testing.T) {
	in := stepInput(t)
	require.NoError(t, os.WriteFile(in.Outputs[model.KindOriginalAudio], []byte("mp3"), 0644))
	runner := &fakeRunner{
		probes: map[string]string{".mp3": mp3Probe},
		outDir: filepath.Dir(in.Outputs[model.KindOriginalAudio]),
	}
	step := NewSeparationStep("uvr --model MDX {input} --inst {inst} --vocal {vocal}", runner, NewFFmpegProcessor("ffmpeg", "ffprobe", runner))

	artifacts, err := step.Run(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, model.KindInstrumentalAudio, artifacts[0].Kind)
	assert.Equal(t, model.KindVocalAudio, artifacts[1].Kind)
	assert.Equal(t, "mp3", *artifacts[0].Meta.Codec)

	c := runner.calls[0]
	assert.Equal(t, "uvr", c.name)
	assert.Equal(t, []string{
		"--model", "MDX",
		in.Outputs[model.KindOriginalAudio],
		"--inst", in.Outputs[model.KindInstrumentalAudio],
		"--vocal", in.Outputs[model.KindVocalAudio],
	}, c.args)
}

func TestTranscriptionPrefersVocalStem(t *testing.T) {
	in := stepInput(t)
	require.NoError(t, os.WriteFile(in.Outputs[model.KindOriginalAudio], []byte("mp3"), 0644))
	require.NoError(t, os.WriteFile(in.Outputs[model.KindVocalAudio], []byte("mp3"), 0644))
	runner := &fakeRunner{outDir: filepath.Dir(in.Outputs[model.KindOriginalAudio])}

	step := NewTranscriptionStep("whisper {input} -o {vtt}", runner)
	artifacts, err := step.Run(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, model.KindTimedLyrics, artifacts[0].Kind)
	assert.Equal(t, in.Outputs[model.KindVocalAudio], runner.calls[0].args[0])
}

func TestCommandStepDisabledIsSkipped(t *testing.T) {
	in := stepInput(t)
	runner := &fakeRunner{}
	step := NewSeparationStep("   ", runner, nil)
	assert.False(t, step.Enabled())

	artifacts, err := step.Run(context.Background(), in)
	assert.NoError(t, err)
	assert.Empty(t, artifacts)
	assert.Empty(t, runner.calls)
}

func TestCommandStepClassifiesExitCodes(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"tempfail", &CommandError{Name: "uvr", ExitCode: 75, Stderr: "CUDA out of memory"}, true},
		{"crash", &CommandError{Name: "uvr", ExitCode: 1}, false},
		{"not found", errors.New("start uvr: executable file not found in $PATH"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := stepInput(t)
			require.NoError(t, os.WriteFile(in.Outputs[model.KindOriginalAudio], []byte("mp3"), 0644))
			step := NewSeparationStep("uvr {input}", &fakeRunner{err: tc.err}, nil)

			_, err := step.Run(context.Background(), in)
			require.Error(t, err)
			assert.Equal(t, tc.transient, pipeline.IsTransient(err))
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestCommandStepPassesContextErrors(t *testing.T) {
	err := classify("separate", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, pipeline.Classify(err), pipeline.ErrProcessingTimeout)
}

func TestCommandStepFailsWithoutInputOrOutput(t *testing.T) {
	in := stepInput(t)
	step := NewSeparationStep("uvr {input}", &fakeRunner{}, nil)
	_, err := step.Run(context.Background(), in)
	assert.ErrorContains(t, err, "does not exist")

	require.NoError(t, os.WriteFile(in.Outputs[model.KindOriginalAudio], []byte("mp3"), 0644))
	_, err = step.Run(context.Background(), in)
	assert.EqualError(t, err, "separate: command produced no output")
}
