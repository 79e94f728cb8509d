// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UnivExplorer Contributors

package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/samber/oops"

	"github.com/univexplorer/authd/pkg/errutil"
)

// maxBodyBytes bounds request bodies; credentials are small.
const maxBodyBytes = 1 << 20

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	user, err := s.service.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// The stored hash never leaves the service boundary.
	s.writeJSON(w, http.StatusCreated, map[string]string{
		"message":  "user registered",
		"username": user.Username,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}

	token, err := s.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: errorBody{
			Code:    "AUTH_INVALID_TOKEN",
			Message: "missing token",
		}})
		return
	}

	claims, err := s.service.VerifyToken(r.Context(), token)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := map[string]string{"username": claims.Username}
	if claims.Email != "" {
		resp["email"] = claims.Email
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// bearerToken extracts the token from the Authorization header. A
// "Bearer " prefix is accepted but not required; older clients send
// the bare token.
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if rest, found := strings.CutPrefix(header, "Bearer "); found {
		return strings.TrimSpace(rest)
	}
	return header
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
			Code:    "AUTH_VALIDATION_FAILED",
			Message: "request body is not valid JSON",
		}})
		return false
	}
	return true
}

// writeError translates a service error into a response. Mapped codes
// carry their oops code; anything unrecognized is a 500 with a generic
// body so internal detail never crosses the boundary.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "AUTH_INTERNAL"
	message := "internal error"

	if oopsErr, ok := oops.AsOops(err); ok {
		if mapped, found := statusForCode[oopsErr.Code()]; found {
			status = mapped
			code = oopsErr.Code()
			message = oopsErr.Error()
			// Uninformative by design: the wrapped cause (expired vs
			// forged, unknown user vs wrong password) stays in the
			// server log.
			if fixed, found := fixedMessages[code]; found {
				message = fixed
			}
		}
	}

	if status >= http.StatusInternalServerError {
		errutil.LogError(s.logger, "request failed", err)
	}

	s.writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// statusForCode maps service error codes to HTTP statuses. Codes not
// listed here are treated as server errors.
var statusForCode = map[string]int{
	"AUTH_VALIDATION_FAILED":   http.StatusBadRequest,
	"AUTH_INVALID_USERNAME":    http.StatusBadRequest,
	"AUTH_INVALID_EMAIL":       http.StatusBadRequest,
	"AUTH_EMPTY_PASSWORD":      http.StatusBadRequest,
	"AUTH_DUPLICATE_USER":      http.StatusConflict,
	"AUTH_INVALID_CREDENTIALS": http.StatusUnauthorized,
	"AUTH_INVALID_TOKEN":       http.StatusUnauthorized,
	"AUTH_STORE_UNAVAILABLE":   http.StatusInternalServerError,
}

var fixedMessages = map[string]string{
	"AUTH_DUPLICATE_USER":      "username or email is already registered",
	"AUTH_INVALID_CREDENTIALS": "invalid username or password",
	"AUTH_INVALID_TOKEN":       "invalid token",
	"AUTH_STORE_UNAVAILABLE":   "credential store unavailable",
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}
