package extraction

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/extractqueue/pkg/apperror"
	"github.com/rowforge/extractqueue/pkg/llm/openai"
)

func TestClassifyLLMError_RetryableAPIErrorMapsToNetwork(t *testing.T) {
	err := classifyLLMError(&openai.APIError{StatusCode: 429, Body: "rate limited", Retryable: true})
	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindLLMNetwork, appErr.Kind)
	assert.True(t, appErr.Retriable)
}

func TestClassifyLLMError_NonRetryableAPIErrorMapsToClient(t *testing.T) {
	err := classifyLLMError(&openai.APIError{StatusCode: 400, Body: "bad schema", Retryable: false})
	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindLLMClient, appErr.Kind)
	assert.False(t, appErr.Retriable)
}

func TestClassifyLLMError_TransportFailureDefaultsToNetwork(t *testing.T) {
	err := classifyLLMError(errors.New("connection reset"))
	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindLLMNetwork, appErr.Kind)
}
