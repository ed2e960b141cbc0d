package errors

import "strings"

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeStorageError       ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeFeatureDisabled    ErrorCode = "COMMON_015"
	ErrCodeNotImplemented     ErrorCode = "COMMON_016"
)

// Ranking Error Codes. Each one corresponds to a terminal failure kind of a
// pose ranking result.
const (
	ErrCodeInputValidation    ErrorCode = "RANK_001"
	ErrCodeBackendUnavailable ErrorCode = "RANK_002"
	ErrCodeDeviceFault        ErrorCode = "RANK_003"
	ErrCodeComputationFailure ErrorCode = "RANK_004"
	ErrCodeInternalError      ErrorCode = "RANK_005"
)

// Structure handling error codes.
const (
	ErrCodeStructureParse    ErrorCode = "STRUCT_001"
	ErrCodeStructureEmpty    ErrorCode = "STRUCT_002"
	ErrCodeLigandNotFound    ErrorCode = "STRUCT_003"
	ErrCodeIndexOutOfRange   ErrorCode = "STRUCT_004"
	ErrCodeConversionMissing ErrorCode = "STRUCT_005"
)

// Engine error codes, raised by the external engine executor.
const (
	ErrCodeEngineNotFound     ErrorCode = "ENGINE_001"
	ErrCodeEngineExit         ErrorCode = "ENGINE_002"
	ErrCodeEngineOutput       ErrorCode = "ENGINE_003"
	ErrCodeEngineNotConverged ErrorCode = "ENGINE_004"
)

// Aliases
const (
	CodeUnknown        = ErrorCode("")
	CodeOK             = ErrorCode("OK")
	CodeInternal       = ErrCodeInternal
	CodeInvalidParam   = ErrCodeBadRequest
	CodeNotFound       = ErrCodeNotFound
	CodeNotImplemented = ErrCodeNotImplemented
	CodeStorageError   = ErrCodeStorageError
	CodeCacheError     = ErrCodeCacheError
)

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "operation timed out",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeStorageError:       "object storage error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeFeatureDisabled:    "feature disabled",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeInputValidation:    "invalid pose input",
	ErrCodeBackendUnavailable: "force-field backend unavailable",
	ErrCodeDeviceFault:        "compute device fault",
	ErrCodeComputationFailure: "energy computation failed",
	ErrCodeInternalError:      "internal ranking error",

	ErrCodeStructureParse:    "structure could not be parsed",
	ErrCodeStructureEmpty:    "structure contains no atoms",
	ErrCodeLigandNotFound:    "ligand residue not found",
	ErrCodeIndexOutOfRange:   "atom index out of range",
	ErrCodeConversionMissing: "structure conversion not available",

	ErrCodeEngineNotFound:     "engine executable not found",
	ErrCodeEngineExit:         "engine exited with failure",
	ErrCodeEngineOutput:       "engine output malformed",
	ErrCodeEngineNotConverged: "optimisation did not converge",
}

// ErrorCodeExitStatus maps ErrorCodes to process exit statuses used by the
// command line entrypoint.
var ErrorCodeExitStatus = map[ErrorCode]int{
	ErrCodeBadRequest:         2,
	ErrCodeValidation:         2,
	ErrCodeInputValidation:    2,
	ErrCodeNotFound:           3,
	ErrCodeBackendUnavailable: 4,
	ErrCodeServiceUnavailable: 4,
	ErrCodeTimeout:            5,
}

// ExitStatus returns the process exit status for code, 1 when unmapped.
func ExitStatus(code ErrorCode) int {
	if s, ok := ErrorCodeExitStatus[code]; ok {
		return s
	}
	return 1
}

// DefaultMessage returns the registered message for code.
func DefaultMessage(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// Module returns the prefix of the code, e.g. "RANK" for "RANK_003".
func (c ErrorCode) Module() string {
	s := string(c)
	if i := strings.IndexByte(s, '_'); i > 0 {
		return s[:i]
	}
	return s
}
