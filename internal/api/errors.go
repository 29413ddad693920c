package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/delacroix-m/sandrun/internal/fileops"
	"github.com/delacroix-m/sandrun/internal/interpreter"
	"github.com/delacroix-m/sandrun/internal/port"
	"github.com/delacroix-m/sandrun/internal/process"
	"github.com/delacroix-m/sandrun/internal/session"
)

// apiErrorBody is the JSON error body shape:
// {success:false, error:{code, message, suggestion?, details?}}.
type apiErrorBody struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

type envelope struct {
	Success bool          `json:"success"`
	Error   *apiErrorBody `json:"error,omitempty"`
}

// errSpec pairs one error-taxonomy entry with its HTTP status and
// optional remediation hint.
type errSpec struct {
	status     int
	code       string
	suggestion string
}

var errStreamingUnsupported = errors.New("streaming not supported by response writer")

var (
	specInvalidRequest       = errSpec{http.StatusBadRequest, "InvalidRequest", ""}
	specInvalidPath          = errSpec{http.StatusBadRequest, "InvalidPath", ""}
	specInvalidPort          = errSpec{http.StatusBadRequest, "InvalidPort", "port must be between 1024 and 65535 and not 3000"}
	specInvalidCommand       = errSpec{http.StatusBadRequest, "InvalidCommand", ""}
	specValidationFailed     = errSpec{http.StatusBadRequest, "ValidationFailed", ""}
	specSessionNotReady      = errSpec{http.StatusNotFound, "SessionNotReady", ""}
	specSessionDestroyed     = errSpec{http.StatusGone, "SessionDestroyed", ""}
	specProcessNotFound      = errSpec{http.StatusNotFound, "ProcessNotFound", ""}
	specCommandNotFound      = errSpec{http.StatusNotFound, "CommandNotFound", ""}
	specPortNotExposed       = errSpec{http.StatusNotFound, "PortNotExposed", "expose the port first"}
	specPortAlreadyExposed   = errSpec{http.StatusConflict, "PortAlreadyExposed", "unexpose the port first or choose a different port"}
	specOutputTooLarge       = errSpec{http.StatusRequestEntityTooLarge, "OutputTooLarge", ""}
	specFileNotFound         = errSpec{http.StatusNotFound, "FileNotFound", ""}
	specFileExists           = errSpec{http.StatusConflict, "FileExists", ""}
	specIsDirectory          = errSpec{http.StatusConflict, "IsDirectory", "use exec(\"rm -rf ...\") to remove directories"}
	specNotDirectory         = errSpec{http.StatusConflict, "NotDirectory", ""}
	specTimeout              = errSpec{http.StatusGatewayTimeout, "Timeout", ""}
	specIoError              = errSpec{http.StatusInternalServerError, "IoError", ""}
	specConnectionRefused    = errSpec{http.StatusBadGateway, "ConnectionRefused", ""}
	specConnectionTimeout    = errSpec{http.StatusGatewayTimeout, "ConnectionTimeout", ""}
	specPathSecurityViolation = errSpec{http.StatusForbidden, "PathSecurityViolation", ""}
	specDangerousCommand     = errSpec{http.StatusForbidden, "DangerousCommand", ""}
	specContextNotFound      = errSpec{http.StatusNotFound, "ContextNotFound", ""}
	specUnsupportedLanguage  = errSpec{http.StatusBadRequest, "UnsupportedLanguage", "check the configured kernel_command entries"}
	specInternalError        = errSpec{http.StatusInternalServerError, "InternalError", ""}
)

// classify maps a component sentinel error to its taxonomy entry.
// Unrecognized errors fall back to a generic 500 InternalError.
func classify(err error) errSpec {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return specSessionNotReady
	case errors.Is(err, session.ErrSessionNotReady):
		return specSessionNotReady
	case errors.Is(err, session.ErrSessionDestroyed):
		return specSessionDestroyed
	case errors.Is(err, session.ErrCommandNotFound):
		return specCommandNotFound
	case errors.Is(err, session.ErrTimeout):
		return specTimeout
	case errors.Is(err, session.ErrOutputTooLarge):
		return specOutputTooLarge
	case errors.Is(err, session.ErrIoError):
		return specIoError
	case errors.Is(err, session.ErrDangerousCommand):
		return specDangerousCommand

	case errors.Is(err, process.ErrNotFound):
		return specProcessNotFound
	case errors.Is(err, process.ErrAlreadyExists):
		return errSpec{http.StatusConflict, "ProcessAlreadyExists", "choose a different processId"}

	case errors.Is(err, port.ErrInvalidPort):
		return specInvalidPort
	case errors.Is(err, port.ErrPortAlreadyExposed):
		return specPortAlreadyExposed
	case errors.Is(err, port.ErrPortNotExposed):
		return specPortNotExposed
	case errors.Is(err, port.ErrConnectionRefused):
		return specConnectionRefused
	case errors.Is(err, port.ErrConnectionTimeout):
		return specConnectionTimeout

	case errors.Is(err, fileops.ErrInvalidPath):
		return specInvalidPath
	case errors.Is(err, fileops.ErrPathEscapes):
		return specPathSecurityViolation
	case errors.Is(err, fileops.ErrExecInTmpDenied):
		return specPathSecurityViolation
	case errors.Is(err, fileops.ErrNotFound):
		return specFileNotFound
	case errors.Is(err, fileops.ErrFileExists):
		return specFileExists
	case errors.Is(err, fileops.ErrIsDirectory):
		return specIsDirectory
	case errors.Is(err, fileops.ErrNotDirectory):
		return specNotDirectory

	case errors.Is(err, interpreter.ErrContextNotFound):
		return specContextNotFound
	case errors.Is(err, interpreter.ErrUnsupportedLanguage):
		return specUnsupportedLanguage
	case errors.Is(err, interpreter.ErrKernelStartTimeout):
		return specTimeout
	case errors.Is(err, interpreter.ErrKernelCrashed):
		return specIoError

	default:
		return specInternalError
	}
}

func writeAPIError(w http.ResponseWriter, err error) {
	spec := classify(err)
	writeTaggedError(w, spec, err.Error(), nil)
}

func writeValidationError(w http.ResponseWriter, message string, details map[string]interface{}) {
	writeTaggedError(w, specValidationFailed, message, details)
}

func writeTaggedError(w http.ResponseWriter, spec errSpec, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(spec.status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error: &apiErrorBody{
			Code:       spec.code,
			Message:    message,
			Suggestion: spec.suggestion,
			Details:    details,
		},
	})
}
