package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

type errorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func (s *Server) logError(r *http.Request, err error) {
	s.logger.Error(err.Error(), "method", r.Method, "uri", r.URL.RequestURI(), "requestId", middleware.GetReqID(r.Context()))
}

// errorJSON sends a JSON error with the given status code.
func (s *Server) errorJSON(w http.ResponseWriter, r *http.Request, status int, message, details string) {
	resp := errorResponse{
		Error:     message,
		Details:   details,
		RequestID: middleware.GetReqID(r.Context()),
	}
	if err := writeJSON(w, status, resp, nil); err != nil {
		s.logError(r, err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (s *Server) serverErrorResponse(w http.ResponseWriter, r *http.Request, message string, err error) {
	s.logError(r, err)
	s.errorJSON(w, r, http.StatusInternalServerError, message, err.Error())
}

func (s *Server) badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	s.errorJSON(w, r, http.StatusBadRequest, "Invalid request", err.Error())
}

func (s *Server) failedValidationResponse(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		s.badRequestResponse(w, r, err)
		return
	}
	issues := make([]string, len(verrs))
	for i, verr := range verrs {
		issues[i] = fmt.Sprintf("%s %s", verr.Field(), validationMessage(verr))
	}
	s.errorJSON(w, r, http.StatusBadRequest, "Invalid request", strings.Join(issues, "; "))
}

func (s *Server) notFoundResponse(w http.ResponseWriter, r *http.Request) {
	s.errorJSON(w, r, http.StatusNotFound, "The requested resource was not found", "")
}

func (s *Server) methodNotAllowedResponse(w http.ResponseWriter, r *http.Request) {
	s.errorJSON(w, r, http.StatusMethodNotAllowed, fmt.Sprintf("The %s method is not supported for this resource", r.Method), "")
}

func (s *Server) rateLimitExceededResponse(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "60")
	s.errorJSON(w, r, http.StatusTooManyRequests, "Rate limit exceeded", "too many scrape requests, slow down")
}

func (s *Server) unavailableResponse(w http.ResponseWriter, r *http.Request, message string) {
	s.errorJSON(w, r, http.StatusServiceUnavailable, message, "")
}
