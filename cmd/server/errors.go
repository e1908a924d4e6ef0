package main

import (
	"net/http"

	"github.com/jaypaulb/CanvusNoteMapper/pkg/notemapper"
)

// statusFor maps an error kind to the HTTP status the API reports.
func statusFor(err error) int {
	switch notemapper.KindOf(err) {
	case notemapper.ErrNotFound:
		return http.StatusNotFound
	case notemapper.ErrBusy, notemapper.ErrInvalidState, notemapper.ErrSuperseded:
		return http.StatusConflict
	case notemapper.ErrEmptySelection, notemapper.ErrMissingTarget, notemapper.ErrIndexOutOfRange,
		notemapper.ErrInvalidImage:
		return http.StatusBadRequest
	case notemapper.ErrInvalidAnchor, notemapper.ErrInvalidTarget:
		return http.StatusUnprocessableEntity
	case notemapper.ErrUpstreamUnavailable, notemapper.ErrDetectionFailed,
		notemapper.ErrPartialFailure, notemapper.ErrMissingFields:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func kindName(err error) string {
	if k := notemapper.KindOf(err); k != nil {
		return k.Error()
	}
	return ""
}
