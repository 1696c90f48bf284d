// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package service

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/plainclass/plain-rtc/pkg/logger"
	"github.com/plainclass/plain-rtc/pkg/rtc"
)

type errorResponse struct {
	Error string `json:"error"`
}

func handleError(w http.ResponseWriter, r *http.Request, status int, err error, keysAndValues ...interface{}) {
	keysAndValues = append(keysAndValues, "status", status)
	if r != nil && r.URL != nil {
		keysAndValues = append(keysAndValues, "method", r.Method, "path", r.URL.Path)
	}
	if !errors.Is(err, context.Canceled) && (r == nil || !errors.Is(r.Context().Err(), context.Canceled)) {
		logger.GetLogger().WithCallDepth(1).Warnw("error handling request", err, keysAndValues...)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, rtc.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, rtc.ErrAlreadyJoined):
		return http.StatusConflict
	case errors.Is(err, rtc.ErrNotAParticipant), errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, rtc.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, ErrBadRequest), errors.Is(err, rtc.ErrMalformedMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respond writes res as JSON, or the status mapped from err.
func respond(w http.ResponseWriter, r *http.Request, res interface{}, err error) {
	if err != nil {
		handleError(w, r, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func respondNoContent(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		handleError(w, r, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func boolValue(s string) bool {
	return s == "1" || s == "true"
}

func GetClientIP(r *http.Request) string {
	// CF proxy typically is first thing the user reaches
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	return ip
}
