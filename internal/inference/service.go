package inference

import (
	"context"
	"fmt"

	"github.com/born-ml/digits/internal/autodiff/ops"
	"github.com/born-ml/digits/internal/model"
	"github.com/born-ml/digits/internal/nn"
	"github.com/born-ml/digits/internal/preprocess"
	"github.com/born-ml/digits/internal/tensor"
)

// Prediction is the answer for one image.
type Prediction struct {
	Digit  int       // argmax of Scores; ties go to the lowest digit
	Scores []float32 // raw logits, one per digit
}

// Probabilities returns the softmax of Scores.
func (p Prediction) Probabilities() []float32 {
	logits := tensor.MustRaw(tensor.Shape{1, len(p.Scores)}, tensor.Float32)
	copy(logits.AsFloat32(), p.Scores)
	return ops.Softmax(logits).AsFloat32()
}

// Service combines a preprocessor and a classifier. It holds no
// per-request state.
type Service struct {
	pre *preprocess.Preprocessor
	clf Classifier
}

// NewService returns a Service. Both dependencies are required.
func NewService(pre *preprocess.Preprocessor, clf Classifier) *Service {
	if pre == nil || clf == nil {
		panic("inference: NewService requires a preprocessor and a classifier")
	}
	return &Service{pre: pre, clf: clf}
}

// PredictImage decodes and preprocesses an uploaded image, then predicts.
// Undecodable data yields an error wrapping preprocess.ErrDecode.
func (s *Service) PredictImage(ctx context.Context, data []byte) (Prediction, error) {
	x, err := s.pre.Process(data)
	if err != nil {
		return Prediction{}, err
	}
	return s.Predict(ctx, x)
}

// Predict classifies a preprocessed [1, 1, 28, 28] tensor.
func (s *Service) Predict(ctx context.Context, x *tensor.RawTensor) (Prediction, error) {
	scores, err := s.clf.Scores(ctx, x)
	if err != nil {
		return Prediction{}, fmt.Errorf("%s engine: %w", s.clf.Kind(), err)
	}
	if len(scores) != model.NumClasses {
		return Prediction{}, fmt.Errorf("%s engine returned %d scores, want %d", s.clf.Kind(), len(scores), model.NumClasses)
	}
	return Prediction{Digit: nn.Argmax(scores), Scores: scores}, nil
}

// Engine reports the classifier's engine kind.
func (s *Service) Engine() EngineKind { return s.clf.Kind() }

// Preprocessor returns the preprocessing pipeline in use.
func (s *Service) Preprocessor() *preprocess.Preprocessor { return s.pre }

// Close releases the classifier.
func (s *Service) Close() error { return s.clf.Close() }
