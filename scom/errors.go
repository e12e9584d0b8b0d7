package scom

import "fmt"

// Scom error codes returned in error response frames.
const (
	ErrCodeNoError                   uint16 = 0x0000
	ErrCodeInvalidFrame              uint16 = 0x0001
	ErrCodeDeviceNotFound            uint16 = 0x0002
	ErrCodeResponseTimeout           uint16 = 0x0003
	ErrCodeServiceNotSupported       uint16 = 0x0011
	ErrCodeInvalidServiceArgument    uint16 = 0x0012
	ErrCodeGatewayBusy               uint16 = 0x0013
	ErrCodeTypeNotSupported          uint16 = 0x0021
	ErrCodeObjectIDNotFound          uint16 = 0x0022
	ErrCodePropertyNotSupported      uint16 = 0x0023
	ErrCodeInvalidDataLength         uint16 = 0x0024
	ErrCodePropertyIsReadOnly        uint16 = 0x0025
	ErrCodeInvalidData               uint16 = 0x0026
	ErrCodeDataTooSmall              uint16 = 0x0027
	ErrCodeDataTooBig                uint16 = 0x0028
	ErrCodeWritePropertyFailed       uint16 = 0x0029
	ErrCodeReadPropertyFailed        uint16 = 0x002A
	ErrCodeAccessDenied              uint16 = 0x002B
	ErrCodeObjectNotSupported        uint16 = 0x002C
	ErrCodeMulticastReadNotSupported uint16 = 0x002D
	ErrCodeObjectPropertyInvalid     uint16 = 0x002E
	ErrCodeFileOrDirNotPresent       uint16 = 0x002F
	ErrCodeFileCorrupted             uint16 = 0x0030
	ErrCodeInvalidShellArg           uint16 = 0x0081
)

// ErrorName returns a human-readable name for an scom error code.
func ErrorName(code uint16) string {
	switch code {
	case ErrCodeNoError:
		return "NO_ERROR"
	case ErrCodeInvalidFrame:
		return "INVALID_FRAME"
	case ErrCodeDeviceNotFound:
		return "DEVICE_NOT_FOUND"
	case ErrCodeResponseTimeout:
		return "RESPONSE_TIMEOUT"
	case ErrCodeServiceNotSupported:
		return "SERVICE_NOT_SUPPORTED"
	case ErrCodeInvalidServiceArgument:
		return "INVALID_SERVICE_ARGUMENT"
	case ErrCodeGatewayBusy:
		return "SCOM_ERROR_GATEWAY_BUSY"
	case ErrCodeTypeNotSupported:
		return "TYPE_NOT_SUPPORTED"
	case ErrCodeObjectIDNotFound:
		return "OBJECT_ID_NOT_FOUND"
	case ErrCodePropertyNotSupported:
		return "PROPERTY_NOT_SUPPORTED"
	case ErrCodeInvalidDataLength:
		return "INVALID_DATA_LENGTH"
	case ErrCodePropertyIsReadOnly:
		return "PROPERTY_IS_READ_ONLY"
	case ErrCodeInvalidData:
		return "INVALID_DATA"
	case ErrCodeDataTooSmall:
		return "DATA_TOO_SMALL"
	case ErrCodeDataTooBig:
		return "DATA_TOO_BIG"
	case ErrCodeWritePropertyFailed:
		return "WRITE_PROPERTY_FAILED"
	case ErrCodeReadPropertyFailed:
		return "READ_PROPERTY_FAILED"
	case ErrCodeAccessDenied:
		return "ACCESS_DENIED"
	case ErrCodeObjectNotSupported:
		return "SCOM_ERROR_OBJECT_NOT_SUPPORTED"
	case ErrCodeMulticastReadNotSupported:
		return "SCOM_ERROR_MULTICAST_READ_NOT_SUPPORTED"
	case ErrCodeObjectPropertyInvalid:
		return "OBJECT_PROPERTY_INVALID"
	case ErrCodeFileOrDirNotPresent:
		return "FILE_OR_DIR_NOT_PRESENT"
	case ErrCodeFileCorrupted:
		return "FILE_CORRUPTED"
	case ErrCodeInvalidShellArg:
		return "INVALID_SHELL_ARG"
	default:
		return fmt.Sprintf("unknown error '%04x'", code)
	}
}
