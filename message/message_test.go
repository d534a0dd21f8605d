package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestEnvelopeJSON(t *testing.T) {
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	env := NewRequest(DefaultTag, &RequestPayload{
		ID:        "abc",
		Procedure: "double",
		Argument:  21.0,
		IssuedAt:  issued,
	})

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var got Envelope
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, DefaultTag, got.Tag)
	assert.Equal(t, KindRequest, got.Kind)
	require.NotNil(t, got.Request)
	assert.Nil(t, got.Response)
	assert.Equal(t, "abc", got.Request.ID)
	assert.Equal(t, "double", got.Request.Procedure)
	assert.Equal(t, 21.0, got.Request.Argument)
	assert.True(t, issued.Equal(got.Request.IssuedAt))
}

func TestResponseSettling(t *testing.T) {
	req := &RequestPayload{ID: "1", Procedure: "fail"}
	resp := PendingResponse(req)
	assert.Equal(t, OutcomePending, resp.Outcome)
	assert.False(t, resp.Outcome.Settled())

	resp.Fulfill(42)
	assert.Equal(t, OutcomeFulfilled, resp.Outcome)
	assert.Equal(t, 42, resp.Value)

	resp.Reject(&RemoteError{Message: "boom"})
	assert.Equal(t, OutcomeRejected, resp.Outcome)
	assert.Nil(t, resp.Value)
	assert.Equal(t, "boom", resp.Error.Error())
	assert.True(t, resp.Outcome.Settled())
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindRequest.Valid())
	assert.True(t, KindResponse.Valid())
	assert.False(t, Kind("heartbeat").Valid())
	assert.False(t, Kind("").Valid())
}

func TestRemoteErrorMatching(t *testing.T) {
	nf := NotFound("missing")
	assert.ErrorIs(t, nf, &RemoteError{Code: CodeProcedureNotFound})
	assert.NotErrorIs(t, &RemoteError{Message: "boom"}, &RemoteError{Code: CodeProcedureNotFound})

	assert.Same(t, nf, ToRemoteError(nf))

	wrapped := ToRemoteError(fmt.Errorf("calling: %w", nf))
	assert.Equal(t, `calling: procedure "missing" is not registered`, wrapped.Message)
	assert.Equal(t, CodeProcedureNotFound, wrapped.Code)
	assert.ErrorIs(t, wrapped, &RemoteError{Code: CodeProcedureNotFound})

	plain := ToRemoteError(errors.New("boom"))
	assert.Equal(t, "", plain.Code)
	assert.Equal(t, "boom", plain.Message)

	assert.Nil(t, ToRemoteError(nil))
	assert.Equal(t, "panic", FromPanic("x").Code)
}
