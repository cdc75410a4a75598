// Package errcode defines the stable error code taxonomy
// returned at every public operation boundary.
package errcode

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/juju/errors"
)

// Code is the machine readable error code. Values are
// part of the external contract and must not change.
type Code string

// Error codes.
const (
	InvalidParameters        Code = "InvalidParameters"
	InvalidRegion            Code = "InvalidRegion"
	NoSettingsFileFound      Code = "NoSettingsFileFound"
	NoSettingsKeyFound       Code = "NoSettingsKeyFound"
	InvalidSettingsFile      Code = "InvalidSettingsFile"
	NoProfileFound           Code = "NoProfileFound"
	ProfileAlreadyExists     Code = "ProfileAlreadyExists"
	BucketNameAlreadyExists  Code = "BucketNameAlreadyExists"
	BucketNameIsWrong        Code = "BucketNameIsWrong"
	InvalidBucketPolicy      Code = "InvalidBucketPolicy"
	AwsError                 Code = "AwsError"
	InvalidCfnTemplate       Code = "InvalidCfnTemplate"
	StackDoesNotExist        Code = "StackDoesNotExist"
	ParametersFileNotFound   Code = "ParametersFileNotFound"
	TemplateFileNotFound     Code = "TemplateFileNotFound"
	StackDoesNotHaveChanges  Code = "StackDoesNotHaveChanges"
	ChangeSetNotFound        Code = "ChangeSetNotFound"
	ChangeSetAlreadyExists   Code = "ChangeSetAlreadyExists"
	InvalidParametersFile    Code = "InvalidParametersFile"
	UnknownError             Code = "UnknownError"
	InsufficientCapabilities Code = "InsufficientCapabilities"
	LimitExceeded            Code = "LimitExceeded"
	InvalidChangeSetStatus   Code = "InvalidChangeSetStatus"

	FileNotFound       Code = "FileNotFound"
	OperationCancelled Code = "OperationCancelled"
)

// Error is an error carrying a Code. Message is the
// diagnostic detail, usually the message of the remote error.
type Error struct {
	Code    Code
	Message string
	cause   error
}

// Error implements error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Cause returns the underlying error, if any.
func (e *Error) Cause() error {
	return e.cause
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates new Error without message.
func New(code Code) *Error {
	return &Error{Code: code}
}

// Newf creates new Error with formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates new Error from err. The message of err
// becomes the message of the returned error.
func Wrap(code Code, err error) *Error {
	if err == nil {
		return New(code)
	}
	return &Error{Code: code, Message: message(err), cause: err}
}

// CodeOf returns the Code of err. Nil error has
// empty code, errors without code are UnknownError.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return UnknownError
}

// Is indicates if err carries the code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns the diagnostic message of err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return message(err)
}

// message returns the most specific message of err.
// AWS errors report their own message without the code prefix.
func message(err error) string {
	if e, ok := errors.Cause(err).(awserr.Error); ok {
		return e.Message()
	}
	return err.Error()
}

var awsCodes = map[string]Code{
	cloudformation.ErrCodeAlreadyExistsException:            ChangeSetAlreadyExists,
	cloudformation.ErrCodeInsufficientCapabilitiesException: InsufficientCapabilities,
	cloudformation.ErrCodeLimitExceededException:            LimitExceeded,
	cloudformation.ErrCodeChangeSetNotFoundException:        ChangeSetNotFound,
	cloudformation.ErrCodeInvalidChangeSetStatusException:   InvalidChangeSetStatus,
}

// Classify converts err to an Error. Errors which already carry
// a code are returned unchanged. AWS errors with a known code are
// mapped to their specific code, other AWS errors to fallback.
// Any other error is UnknownError.
func Classify(err error, fallback Code) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if awsErr, ok := errors.Cause(err).(awserr.Error); ok {
		if code, ok := awsCodes[awsErr.Code()]; ok {
			return Wrap(code, err)
		}
		return Wrap(fallback, err)
	}
	return Wrap(UnknownError, err)
}

// AWSCode returns the code of underlying AWS error,
// or empty string if err is not an AWS error.
func AWSCode(err error) string {
	if awsErr, ok := errors.Cause(err).(awserr.Error); ok {
		return awsErr.Code()
	}
	return ""
}

// StatusCode returns the HTTP status code of underlying
// AWS request failure, or 0.
func StatusCode(err error) int {
	if reqErr, ok := errors.Cause(err).(awserr.RequestFailure); ok {
		return reqErr.StatusCode()
	}
	return 0
}
