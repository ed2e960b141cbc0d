package forcefield

import (
	"github.com/turtacn/PoseRank/pkg/errors"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

var rankingCodes = []errors.ErrorCode{
	errors.ErrCodeInputValidation,
	errors.ErrCodeBackendUnavailable,
	errors.ErrCodeDeviceFault,
	errors.ErrCodeComputationFailure,
	errors.ErrCodeInternalError,
}

// Classify attaches a ranking failure code to err, naming the workflow
// stage. Errors that already carry a ranking code keep it. Otherwise a
// missing engine means the backend is unavailable, a broken index mapping is
// internal, and everything else (non-zero exit, unparsable output,
// non-convergence, deadline) is a computation failure.
func Classify(err error, stage string) error {
	if err == nil {
		return nil
	}
	if code := errors.FirstCodeOf(err, rankingCodes...); code != errors.CodeUnknown {
		return errors.Wrap(err, code, stage)
	}
	switch {
	case errors.IsCode(err, errors.ErrCodeEngineNotFound):
		return errors.Wrap(err, errors.ErrCodeBackendUnavailable, stage)
	case errors.IsCode(err, errors.ErrCodeTimeout):
		return errors.Wrap(err, errors.ErrCodeComputationFailure, stage+": deadline exceeded")
	case errors.IsCode(err, errors.ErrCodeIndexOutOfRange):
		return errors.Wrap(err, errors.ErrCodeInternalError, stage)
	}
	return errors.Wrap(err, errors.ErrCodeComputationFailure, stage)
}

// FailedResult builds the failed result of a backend run.
func FailedResult(in Input, method pose.Method, device string, err error) *pose.RankingResult {
	r := pose.FromError(in.PoseID, err)
	r.EnergyMethod = method
	r.Device = device
	return r
}
