package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfClassified(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(New(KindNotFound, "job not found")))
	assert.Equal(t, KindConflict, KindOf(Newf(KindConflict, "job %s is terminal", "j1")))
}

func TestKindOfWrappedChain(t *testing.T) {
	inner := Wrap(KindStorage, "query users", errors.New("connection reset"))
	outer := fmt.Errorf("list users: %w", inner)
	assert.Equal(t, KindStorage, KindOf(outer))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("anything")))
}

func TestIsKind(t *testing.T) {
	err := New(KindAuth, "token expired")
	assert.True(t, IsKind(err, KindAuth))
	assert.False(t, IsKind(err, KindForbidden))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(KindNetwork, "GET /chapters", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "NETWORK")
	assert.Contains(t, err.Error(), "dial tcp: timeout")
}

func TestValidationCarriesFailures(t *testing.T) {
	err := Validation("invalid schedule", "cron expression is malformed", "priority out of range")
	assert.Equal(t, KindValidation, err.Kind)
	assert.Equal(t, []string{"cron expression is malformed", "priority out of range"},
		err.Details["errors"])

	plain := Validation("invalid schedule")
	assert.Nil(t, plain.Details)
}

func TestUpstreamDetails(t *testing.T) {
	err := Upstream("aladhan", 503, "maintenance")
	assert.Equal(t, KindUpstream, err.Kind)
	assert.Equal(t, "aladhan", err.Details["provider"])
	assert.Equal(t, 503, err.Details["status"])
	assert.Contains(t, err.Error(), "upstream aladhan returned 503")
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation: http.StatusBadRequest,
		KindAuth:       http.StatusUnauthorized,
		KindForbidden:  http.StatusForbidden,
		KindNotFound:   http.StatusNotFound,
		KindConflict:   http.StatusConflict,
		KindRateLimit:  http.StatusTooManyRequests,
		KindUpstream:   http.StatusBadGateway,
		KindNetwork:    http.StatusBadGateway,
		KindProtocol:   http.StatusBadGateway,
		KindStorage:    http.StatusInternalServerError,
		KindInternal:   http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), "kind %s", kind)
	}
}
