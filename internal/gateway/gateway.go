// Package gateway decides whether a submission may reach the ledger.
//
// Admission is a call-shape check only: any ApplyBatch is accepted with
// maximum priority and unbounded longevity, with no signature or sender
// authentication. The ledger's replay guard is the only backstop, and it
// does not stop a first forged Open event.
package gateway

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"swapOracle/internal/model"
)

// ErrUnknownSubmission is returned for every submission shape other than ApplyBatch.
var ErrUnknownSubmission = errors.New("unknown submission")

// Submission is a state-changing request produced outside the ledger.
type Submission interface {
	submission()
}

// ApplyBatch asks the ledger to apply one round's decoded events.
type ApplyBatch struct {
	Height uint64
	Events []model.SwapEvent
}

// Call is any other named submission.
type Call struct {
	Name    string
	Payload []byte
}

func (ApplyBatch) submission() {}
func (Call) submission()       {}

// Validity describes an admitted submission.
type Validity struct {
	Priority  uint64
	Longevity uint64
	Propagate bool
	Provides  [][]byte
}

// Gateway validates submissions.
type Gateway struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{logger: logger}
}

// Validate admits ApplyBatch submissions and rejects everything else.
func (g *Gateway) Validate(sub Submission) (Validity, error) {
	switch s := sub.(type) {
	case ApplyBatch:
		g.logger.Debug("admit batch", zap.Uint64("height", s.Height), zap.Int("events", len(s.Events)))
		return Validity{
			Priority:  math.MaxUint64,
			Longevity: math.MaxUint64,
			Propagate: true,
			Provides:  [][]byte{{0}},
		}, nil
	case Call:
		return Validity{}, fmt.Errorf("%w: %q", ErrUnknownSubmission, s.Name)
	default:
		return Validity{}, fmt.Errorf("%w: %T", ErrUnknownSubmission, sub)
	}
}
