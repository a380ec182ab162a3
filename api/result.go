package api

import (
	"fmt"

	"github.com/wippyai/callguard/errors"
)

// Result is a Level Zero style status code. Drivers return a non-success
// Result as their error; validation failures map onto one via ResultFor.
type Result uint32

const (
	ResultSuccess                 Result = 0
	ResultNotReady                Result = 1
	ResultErrorDeviceLost         Result = 0x70000001
	ResultErrorOutOfHostMemory    Result = 0x70000002
	ResultErrorOutOfDeviceMemory  Result = 0x70000003
	ResultErrorModuleBuildFailure Result = 0x70000004
	ResultErrorNotAvailable       Result = 0x70010001
	ResultErrorUninitialized      Result = 0x78000001
	ResultErrorUnsupportedVersion Result = 0x78000002
	ResultErrorUnsupportedFeature Result = 0x78000003
	ResultErrorInvalidArgument    Result = 0x78000004
	ResultErrorInvalidNullHandle  Result = 0x78000005
	ResultErrorHandleObjectInUse  Result = 0x78000006
	ResultErrorInvalidNullPointer Result = 0x78000007
	ResultErrorUnknown            Result = 0x7fffffff
)

var resultNames = map[Result]string{
	ResultSuccess:                 "ZE_RESULT_SUCCESS",
	ResultNotReady:                "ZE_RESULT_NOT_READY",
	ResultErrorDeviceLost:         "ZE_RESULT_ERROR_DEVICE_LOST",
	ResultErrorOutOfHostMemory:    "ZE_RESULT_ERROR_OUT_OF_HOST_MEMORY",
	ResultErrorOutOfDeviceMemory:  "ZE_RESULT_ERROR_OUT_OF_DEVICE_MEMORY",
	ResultErrorModuleBuildFailure: "ZE_RESULT_ERROR_MODULE_BUILD_FAILURE",
	ResultErrorNotAvailable:       "ZE_RESULT_ERROR_NOT_AVAILABLE",
	ResultErrorUninitialized:      "ZE_RESULT_ERROR_UNINITIALIZED",
	ResultErrorUnsupportedVersion: "ZE_RESULT_ERROR_UNSUPPORTED_VERSION",
	ResultErrorUnsupportedFeature: "ZE_RESULT_ERROR_UNSUPPORTED_FEATURE",
	ResultErrorInvalidArgument:    "ZE_RESULT_ERROR_INVALID_ARGUMENT",
	ResultErrorInvalidNullHandle:  "ZE_RESULT_ERROR_INVALID_NULL_HANDLE",
	ResultErrorHandleObjectInUse:  "ZE_RESULT_ERROR_HANDLE_OBJECT_IN_USE",
	ResultErrorInvalidNullPointer: "ZE_RESULT_ERROR_INVALID_NULL_POINTER",
	ResultErrorUnknown:            "ZE_RESULT_ERROR_UNKNOWN",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("ZE_RESULT_%#x", uint32(r))
}

// Error implements error so drivers can return a Result directly.
func (r Result) Error() string {
	return r.String()
}

// Failed reports whether r is an error code. NotReady is a status, not a
// failure.
func (r Result) Failed() bool {
	return r != ResultSuccess && r != ResultNotReady
}

// ResultFor maps an interception outcome onto a status code. A Result in the
// chain is returned as is, so a driver error passes through unchanged.
func ResultFor(err error) Result {
	if err == nil {
		return ResultSuccess
	}

	var r Result
	if errors.As(err, &r) {
		return r
	}

	switch errors.KindOf(err) {
	case errors.KindUnknownHandle, errors.KindUseAfterDestroy,
		errors.KindDoubleDestroy, errors.KindNullHandle:
		return ResultErrorInvalidNullHandle
	case errors.KindNullPointer:
		return ResultErrorInvalidNullPointer
	case errors.KindInUse:
		return ResultErrorHandleObjectInUse
	case errors.KindAliasMisuse, errors.KindCycleRejected, errors.KindParentConflict,
		errors.KindAlreadyExists, errors.KindInvalidArgument:
		return ResultErrorInvalidArgument
	case errors.KindThreadConflict:
		return ResultErrorNotAvailable
	case errors.KindUnsupported:
		return ResultErrorUnsupportedVersion
	case errors.KindNotInitialized:
		return ResultErrorUninitialized
	default:
		return ResultErrorUnknown
	}
}
