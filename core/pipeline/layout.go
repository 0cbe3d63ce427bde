package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"nebulaktv/model"

	"github.com/google/uuid"
)

var (
	// ErrInvalidSource rejects a submitted source path before anything runs.
	ErrInvalidSource = errors.New("invalid source path")
	errOutsideRoot   = errors.New("path is outside the media root")
)

// Layout 输出文件布局: <源目录>/processed/<songId>/<文件名>_original.mp3 等
type Layout struct {
	root      string
	sourceRel string
	dirRel    string
	base      string
}

// NewLayout accepts a source path relative to mediaRoot, or an absolute
// path inside it.
func NewLayout(mediaRoot string, songID uuid.UUID, sourcePath string) (Layout, error) {
	if sourcePath == "" {
		return Layout{}, fmt.Errorf("%w: empty", ErrInvalidSource)
	}
	root, err := filepath.Abs(mediaRoot)
	if err != nil {
		return Layout{}, err
	}
	rel, err := relativeTo(root, sourcePath)
	if err != nil {
		return Layout{}, fmt.Errorf("%w %s: %w", ErrInvalidSource, sourcePath, err)
	}
	base := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	return Layout{
		root:      root,
		sourceRel: rel,
		dirRel:    filepath.Join(filepath.Dir(rel), "processed", songID.String()),
		base:      base,
	}, nil
}

func relativeTo(root, p string) (string, error) {
	abs := p
	if !filepath.IsAbs(p) {
		abs = filepath.Join(root, p)
	}
	rel, err := filepath.Rel(root, filepath.Clean(abs))
	if err != nil {
		return "", err
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideRoot
	}
	return rel, nil
}

// Rel returns the media-root relative path for kind, as stored on records.
func (l Layout) Rel(kind model.AssetKind) string {
	switch kind {
	case model.KindPrimaryVideo:
		return filepath.ToSlash(l.sourceRel)
	case model.KindOriginalAudio:
		return filepath.ToSlash(filepath.Join(l.dirRel, l.base+"_original.mp3"))
	case model.KindInstrumentalAudio:
		return filepath.ToSlash(filepath.Join(l.dirRel, l.base+"_inst.mp3"))
	case model.KindVocalAudio:
		return filepath.ToSlash(filepath.Join(l.dirRel, l.base+"_vocal.mp3"))
	case model.KindTimedLyrics:
		return filepath.ToSlash(filepath.Join(l.dirRel, l.base+".vtt"))
	case model.KindWordAlignedLyrics:
		return filepath.ToSlash(filepath.Join(l.dirRel, l.base+"_words.json"))
	case model.KindWaveformData:
		return filepath.ToSlash(filepath.Join(l.dirRel, l.base+"_waveform.json"))
	}
	return ""
}

func (l Layout) Abs(kind model.AssetKind) string {
	return filepath.Join(l.root, filepath.FromSlash(l.Rel(kind)))
}

func (l Layout) Source() string {
	return l.Abs(model.KindPrimaryVideo)
}

// OutputDir is the absolute directory holding the generated files.
func (l Layout) OutputDir() string {
	return filepath.Join(l.root, l.dirRel)
}

// RelOf converts a local absolute path produced by a step back to a stored path.
func (l Layout) RelOf(p string) (string, error) {
	rel, err := relativeTo(l.root, p)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// StepInput builds the input handed to every step.
func (l Layout) StepInput(songID uuid.UUID) StepInput {
	outputs := make(map[model.AssetKind]string, len(model.AllAssetKinds))
	for _, k := range model.AllAssetKinds {
		if k == model.KindPrimaryVideo {
			continue
		}
		outputs[k] = l.Abs(k)
	}
	return StepInput{SongID: songID, Source: l.Source(), Outputs: outputs}
}
