package server

import (
	"log/slog"
	"net/http"
	"strconv"
)

func (s *Server) logError(r *http.Request, err error) {
	slog.Error(err.Error(), "method", r.Method, "uri", r.URL.RequestURI())
}

func (s *Server) errorResponse(w http.ResponseWriter, r *http.Request, status int, message any) {
	data := envelop{"error": message}
	if err := s.writeJSON(w, data, status, nil); err != nil {
		s.logError(r, err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (s *Server) badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	s.errorResponse(w, r, http.StatusBadRequest, err.Error())
}

func (s *Server) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	message := "the server encountered a problem and could not process your request"
	s.errorResponse(w, r, http.StatusInternalServerError, message)
	s.logError(r, err)
}

func (s *Server) notFoundResponse(w http.ResponseWriter, r *http.Request) {
	message := "the requested resource cannot be found"
	s.errorResponse(w, r, http.StatusNotFound, message)
}

// rangeNotSatisfiableResponse rejects a range whose start lies past the
// resource, advertising the resource size the way 416 responses do.
func (s *Server) rangeNotSatisfiableResponse(w http.ResponseWriter, r *http.Request, size uint64) {
	w.Header().Set("Content-Range", "bytes */"+strconv.FormatUint(size, 10))
	s.errorResponse(w, r, http.StatusRequestedRangeNotSatisfiable, "the requested range is outside the resource")
}

func (s *Server) unauthorizedResponse(w http.ResponseWriter, r *http.Request) {
	message := "a requester identity is required"
	s.errorResponse(w, r, http.StatusUnauthorized, message)
}

func (s *Server) notOwnerResponse(w http.ResponseWriter, r *http.Request) {
	message := "you do not own this resource"
	s.errorResponse(w, r, http.StatusForbidden, message)
}

func (s *Server) admissionDeniedResponse(w http.ResponseWriter, r *http.Request, reason string) {
	s.errorResponse(w, r, http.StatusTooManyRequests, reason)
}

func (s *Server) rateLimitExceededResponse(w http.ResponseWriter, r *http.Request) {
	message := "rate limit exceeded"
	s.errorResponse(w, r, http.StatusTooManyRequests, message)
}

func (s *Server) quotaExceededResponse(w http.ResponseWriter, r *http.Request, err error) {
	s.errorResponse(w, r, http.StatusRequestEntityTooLarge, err.Error())
}

func (s *Server) conflictResponse(w http.ResponseWriter, r *http.Request, message any) {
	s.errorResponse(w, r, http.StatusConflict, message)
}
