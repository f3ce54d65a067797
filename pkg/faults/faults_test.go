package faults_test

import (
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/faults"
)

func TestCodeOf(t *testing.T) {
	err := faults.New(faults.CodeStaleHead, "card is no longer the chain head")
	assert.Equal(t, faults.CodeStaleHead, faults.CodeOf(err))
	assert.True(t, faults.Is(err, faults.CodeStaleHead))
	assert.False(t, faults.Is(err, faults.CodeNotFound))

	// Code survives wrapping.
	wrapped := errors.Wrap(err, "responding to card")
	assert.Equal(t, faults.CodeStaleHead, faults.CodeOf(wrapped))

	assert.Equal(t, faults.Code(""), faults.CodeOf(errors.New("plain error")))
}

func TestIsConflict(t *testing.T) {
	tests := []struct {
		code     faults.Code
		conflict bool
	}{
		{faults.CodeStaleHead, true},
		{faults.CodeDuplicateOpenCard, true},
		{faults.CodeDuplicateResponse, true},
		{faults.CodeAlreadyPendingReview, true},
		{faults.CodeResponseRecorded, true},
		{faults.CodeNotCounterparty, false},
		{faults.CodeInvalidTerms, false},
		{faults.CodeNotFound, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.conflict, faults.IsConflict(faults.New(tt.code, "x")))
		})
	}
}

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		code   faults.Code
		status int
	}{
		{faults.CodeInvalidTerms, http.StatusBadRequest},
		{faults.CodeStaleHead, http.StatusConflict},
		{faults.CodeNotCounterparty, http.StatusForbidden},
		{faults.CodeNotFound, http.StatusNotFound},
		{faults.CodeCollaboratorUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			fault := &faults.Fault{Code: tt.code, Message: "x"}
			httpErr := fault.ToHTTPError()
			require.NotNil(t, httpErr)
			assert.Equal(t, tt.status, httperror.GetStatusCode(httpErr))
		})
	}
}
