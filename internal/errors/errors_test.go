package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSrcError_Unwrap_PreservesOriginalError(t *testing.T) {
	originalErr := errors.New("original error")

	wrapped := New(ErrCodeFileReadError, "file not found: test.txt", originalErr)

	require.NotNil(t, wrapped)
	assert.Equal(t, originalErr, errors.Unwrap(wrapped))
	assert.True(t, errors.Is(wrapped, originalErr))
}

func TestOpenSrcError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigInvalid,
			message:  "config file not found",
			expected: "[ERR_102_CONFIG_INVALID] config file not found",
		},
		{
			name:     "file error",
			code:     ErrCodeFileReadError,
			message:  "file.go not found",
			expected: "[ERR_203_FILE_READ_ERROR] file.go not found",
		},
		{
			name:     "fetch error",
			code:     ErrCodeFetchError,
			message:  "request timed out",
			expected: "[ERR_501_FETCH_ERROR] request timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestOpenSrcError_Is_MatchesByCode(t *testing.T) {
	err1 := New(ErrCodeFileReadError, "file A not found", nil)
	err2 := New(ErrCodeFileReadError, "file B not found", nil)

	assert.True(t, errors.Is(err1, err2))
}

func TestOpenSrcError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := New(ErrCodeFileReadError, "file not found", nil)
	err2 := New(ErrCodeConfigInvalid, "config not found", nil)

	assert.False(t, errors.Is(err1, err2))
}

func TestOpenSrcError_WithDetails_AddsContext(t *testing.T) {
	err := New(ErrCodeFileReadError, "file not found", nil)

	err = err.WithDetail("path", "/foo/bar.go")
	err = err.WithDetail("size", "1024")

	assert.Equal(t, "/foo/bar.go", err.Details["path"])
	assert.Equal(t, "1024", err.Details["size"])
}

func TestOpenSrcError_WithSuggestion_AddsSuggestion(t *testing.T) {
	err := New(ErrCodeFetchError, "connection timed out", nil)

	err = err.WithSuggestion("check your network connection")

	assert.Equal(t, "check your network connection", err.Suggestion)
}

func TestOpenSrcError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeManifestCorrupt, CategoryConfig},
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeSourceNotFound, CategoryFileAccess},
		{ErrCodePathTraversal, CategoryFileAccess},
		{ErrCodeVectorExtensionMissing, CategoryStore},
		{ErrCodeDatabaseError, CategoryStore},
		{ErrCodeEmbedderNotReady, CategoryEmbedder},
		{ErrCodeFetchError, CategoryFetch},
		{ErrCodeExecutionTimeout, CategorySandbox},
		{ErrCodeInternal, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestOpenSrcError_SeverityFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantSeverity Severity
	}{
		{ErrCodeUnsupportedPlatform, SeverityFatal},
		{ErrCodeVectorExtensionMissing, SeverityFatal},
		{ErrCodeManifestCorrupt, SeverityFatal},
		{ErrCodeFileReadError, SeverityError},
		{ErrCodeFetchError, SeverityWarning},
		{ErrCodeEmbedderNotReady, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
		})
	}
}

func TestOpenSrcError_RetryableFromCode(t *testing.T) {
	tests := []struct {
		code          string
		wantRetryable bool
	}{
		{ErrCodeFetchError, true},
		{ErrCodeEmbedderNotReady, true},
		{ErrCodeEmbedError, true},
		{ErrCodeFileReadError, false},
		{ErrCodeConfigInvalid, false},
		{ErrCodeVectorExtensionMissing, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_CreatesOpenSrcErrorFromError(t *testing.T) {
	originalErr := errors.New("something went wrong")

	wrapped := Wrap(ErrCodeInternal, originalErr)

	require.NotNil(t, wrapped)
	assert.Equal(t, ErrCodeInternal, wrapped.Code)
	assert.Equal(t, "something went wrong", wrapped.Message)
	assert.Equal(t, originalErr, wrapped.Cause)
}

func TestNotFound_CreatesSourceNotFoundError(t *testing.T) {
	err := NotFound("npm:left-pad@1.3.0")

	assert.Equal(t, ErrCodeSourceNotFound, err.Code)
	assert.Equal(t, CategoryFileAccess, err.Category)
	assert.Equal(t, "npm:left-pad@1.3.0", err.Details["source"])
}

func TestPathTraversal_CreatesPathTraversalError(t *testing.T) {
	err := PathTraversal("../../etc/passwd")

	assert.Equal(t, ErrCodePathTraversal, err.Code)
	assert.Contains(t, err.Message, "../../etc/passwd")
}

func TestFetchFailed_CreatesRetryableError(t *testing.T) {
	err := FetchFailed("registry returned 503", nil)

	assert.Equal(t, CategoryFetch, err.Category)
	assert.True(t, err.Retryable)
}

func TestEmbedderNotReady_CreatesEmbedderCategoryError(t *testing.T) {
	err := EmbedderNotReady(nil)

	assert.Equal(t, CategoryEmbedder, err.Category)
}

func TestIsRetryable_ChecksRetryableFlag(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "retryable OpenSrcError",
			err:      New(ErrCodeFetchError, "timeout", nil),
			expected: true,
		},
		{
			name:     "non-retryable OpenSrcError",
			err:      New(ErrCodeFileReadError, "not found", nil),
			expected: false,
		},
		{
			name:     "wrapped retryable error",
			err:      Wrap(ErrCodeFetchError, errors.New("wrapped")),
			expected: true,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal_ChecksFatalSeverity(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "fatal error",
			err:      New(ErrCodeVectorExtensionMissing, "extension missing", nil),
			expected: true,
		},
		{
			name:     "unsupported platform",
			err:      New(ErrCodeUnsupportedPlatform, "no binary for platform", nil),
			expected: true,
		},
		{
			name:     "non-fatal error",
			err:      New(ErrCodeFileReadError, "not found", nil),
			expected: false,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsFatal(tt.err))
		})
	}
}
