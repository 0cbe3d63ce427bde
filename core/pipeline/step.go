package pipeline

import (
	"context"

	"nebulaktv/model"

	"github.com/google/uuid"
)

// StepInput 传给处理步骤的参数，路径均为本地绝对路径
type StepInput struct {
	SongID uuid.UUID
	Source string
	// Outputs is where each kind is expected to be written.
	Outputs map[model.AssetKind]string
}

// Artifact is a file a step produced (or, for the primary video, inspected).
type Artifact struct {
	Kind model.AssetKind
	Path string
	Meta model.AssetMeta
}

// Step is one external processing stage. Run returns the produced artifacts,
// a *TransientError, or any other error, which is treated as fatal.
type Step interface {
	Name() string
	Run(ctx context.Context, in StepInput) ([]Artifact, error)
}

// StepFunc adapts a function to Step.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, in StepInput) ([]Artifact, error)
}

func (f StepFunc) Name() string { return f.StepName }

func (f StepFunc) Run(ctx context.Context, in StepInput) ([]Artifact, error) {
	return f.Fn(ctx, in)
}
