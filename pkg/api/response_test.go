package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barakah-labs/minaret/pkg/errs"
)

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env
}

func TestWriteData(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteData(rr, map[string]int{"count": 3})

	assert.Equal(t, 200, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	env := decodeEnvelope(t, rr)
	assert.True(t, env.Success)
	assert.Nil(t, env.Error)
}

func TestWriteErrorClassified(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, errs.Validation("invalid schedule", "cron expression is malformed"))

	assert.Equal(t, 400, rr.Code)
	env := decodeEnvelope(t, rr)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, errs.KindValidation, env.Error.Kind)
	assert.Equal(t, "invalid schedule", env.Error.Message)
	assert.Contains(t, env.Error.Details, "errors")
}

func TestWriteErrorHidesUnclassified(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, assert.AnError)

	assert.Equal(t, 500, rr.Code)
	env := decodeEnvelope(t, rr)
	require.NotNil(t, env.Error)
	assert.Equal(t, errs.KindInternal, env.Error.Kind)
	assert.Equal(t, "internal error", env.Error.Message)
	assert.NotContains(t, rr.Body.String(), assert.AnError.Error())
}

func TestWriteTooManyRequests(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteTooManyRequests(rr, 42)

	assert.Equal(t, 429, rr.Code)
	assert.Equal(t, "42", rr.Header().Get("Retry-After"))
	env := decodeEnvelope(t, rr)
	require.NotNil(t, env.Error)
	assert.Equal(t, errs.KindRateLimit, env.Error.Kind)
}
