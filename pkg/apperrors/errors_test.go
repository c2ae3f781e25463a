package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("book slot: %w", NewSlotUnavailable())

	assert.True(t, Is(err, SlotUnavailable))
	assert.False(t, Is(err, NotFound))
	assert.True(t, errors.Is(err, New(SlotUnavailable, "")))
	assert.False(t, Is(nil, SlotUnavailable))
}

func TestCodeOf_Plain(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("boom")))
	assert.Equal(t, QueueEmpty, CodeOf(NewQueueEmpty()))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		InvalidWindow:     http.StatusBadRequest,
		InvalidInput:      http.StatusBadRequest,
		NotFound:          http.StatusNotFound,
		Forbidden:         http.StatusForbidden,
		SlotUnavailable:   http.StatusConflict,
		QueueNotStarted:   http.StatusConflict,
		AlreadyServing:    http.StatusConflict,
		SlotsLocked:       http.StatusConflict,
		Code("SOMETHING"): http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), string(code))
	}
}

func TestHTTP_UserFacingMessages(t *testing.T) {
	he := HTTP(NewSlotUnavailable())
	assert.Equal(t, http.StatusConflict, he.Code)
	body := he.Message.(map[string]string)
	assert.Equal(t, "this slot was just taken, please pick another", body["message"])

	he = HTTP(NewQueueNotStarted())
	assert.Equal(t, "start the queue first", he.Message.(map[string]string)["message"])
}

func TestHTTP_HidesInternalErrors(t *testing.T) {
	he := HTTP(errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, he.Code)
	assert.Equal(t, "internal server error", he.Message)
	assert.EqualError(t, he.Internal, "pq: connection refused")
}

func TestAppError_ErrorString(t *testing.T) {
	err := Wrap(NotFound, "slot not found", errors.New("no rows"))
	assert.Equal(t, "NOT_FOUND: slot not found: no rows", err.Error())
	assert.Equal(t, "QUEUE_EMPTY: no patients waiting", NewQueueEmpty().Error())
}
