package structure

import (
	"github.com/turtacn/PoseRank/pkg/errors"
)

// ToZeroBased converts 1-based atom indices (semi-empirical engine and PDB
// serial convention) into 0-based indices (array convention of the learned
// potential driver).
//
// Preconditions: atomCount > 0; every index lies in [1, atomCount]; no index
// repeats.
// Postconditions: the result has the same length and order as indices and
// every value lies in [0, atomCount-1].
//
// A violated precondition returns ErrCodeIndexOutOfRange wrapped as an
// internal error; values are never clamped.
func ToZeroBased(indices []int, atomCount int) ([]int, error) {
	if err := ValidateOneBased(indices, atomCount); err != nil {
		return nil, err
	}
	out := make([]int, len(indices))
	for i, idx := range indices {
		out[i] = idx - 1
	}
	return out, nil
}

// ValidateOneBased checks the ToZeroBased preconditions without converting.
// Engines that consume 1-based indices directly use it to reject a bad
// constraint list before invocation.
func ValidateOneBased(indices []int, atomCount int) error {
	if atomCount <= 0 {
		return errors.Wrap(
			errors.Newf(errors.ErrCodeIndexOutOfRange, "atom count %d", atomCount),
			errors.ErrCodeInternalError, "index mapping")
	}
	seen := make(map[int]struct{}, len(indices))
	for _, idx := range indices {
		if idx < 1 || idx > atomCount {
			return errors.Wrap(
				errors.Newf(errors.ErrCodeIndexOutOfRange, "index %d outside [1,%d]", idx, atomCount),
				errors.ErrCodeInternalError, "index mapping")
		}
		if _, dup := seen[idx]; dup {
			return errors.Wrap(
				errors.Newf(errors.ErrCodeIndexOutOfRange, "index %d repeated", idx),
				errors.ErrCodeInternalError, "index mapping")
		}
		seen[idx] = struct{}{}
	}
	return nil
}
