// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"nlcube/cli/internal/columnar"
	nerrors "nlcube/cli/internal/errors"
	"nlcube/cli/internal/logging"
	"nlcube/cli/internal/service"
	"nlcube/cli/internal/store"
)

const maxBody = 1 << 20

type errorBody struct {
	Kind      nerrors.Kind `json:"kind"`
	Message   string       `json:"message"`
	SQL       string       `json:"sql,omitempty"`
	RawOutput string       `json:"raw_output,omitempty"`
}

type queryRequest struct {
	Subject  string `json:"subject"`
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

type subjectRequest struct {
	Name string `json:"name"`
}

type jsonAnswer struct {
	SQL        string         `json:"sql"`
	RawOutput  string         `json:"raw_output,omitempty"`
	RowCount   int            `json:"row_count"`
	ElapsedMs  int64          `json:"elapsed_ms"`
	Columns    []store.Column `json:"columns"`
	Rows       [][]any        `json:"rows"`
	Unreliable bool           `json:"unreliable,omitempty"`
}

func statusFor(kind nerrors.Kind) int {
	switch kind {
	case nerrors.InvalidQuestion, nerrors.InvalidName, nerrors.ExecutionError:
		return http.StatusBadRequest
	case nerrors.UnknownSubject:
		return http.StatusNotFound
	case nerrors.AlreadyExists, nerrors.Busy:
		return http.StatusConflict
	case nerrors.UnsafeQuery, nerrors.MalformedResponse:
		return http.StatusUnprocessableEntity
	case nerrors.PoolExhausted, nerrors.ConnectionError, nerrors.TranslationUnavailable:
		return http.StatusServiceUnavailable
	case nerrors.ExecutionTimeout:
		return http.StatusGatewayTimeout
	case nerrors.Canceled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError reports err with its kind. Defects are logged in full and
// answered with a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := nerrors.KindOf(err)
	body := errorBody{Kind: kind, Message: logging.Mask(err.Error())}
	if e, ok := nerrors.As(err); ok {
		body.Message = logging.Mask(e.Message)
		if e.Err != nil {
			body.Message += ": " + logging.Mask(e.Err.Error())
		}
		body.SQL = e.SQL
		body.RawOutput = e.Raw
	}

	switch kind {
	case nerrors.SerializationError, nerrors.Internal, nerrors.ConfigurationError:
		s.logger.Error("request failed", s.logger.Args("path", r.URL.Path, "error", logging.Mask(err.Error())))
		body = errorBody{Kind: kind, Message: "the result could not be prepared"}
	default:
		s.logger.Debug("request rejected", s.logger.Args("path", r.URL.Path, "kind", string(kind)))
	}
	writeJSON(w, statusFor(kind), body)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return nerrors.Wrap(nerrors.InvalidQuestion, "invalid JSON body", err)
	}
	return nil
}

// subjectContext selects the subject named by the header or cookie.
func subjectContext(r *http.Request) context.Context {
	ctx := r.Context()
	if name := strings.TrimSpace(r.Header.Get(headerSubject)); name != "" {
		return service.WithSubject(ctx, name)
	}
	if c, err := r.Cookie(cookieSubject); err == nil && c.Value != "" {
		return service.WithSubject(ctx, c.Value)
	}
	return ctx
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func (s *Server) writeAnswer(w http.ResponseWriter, r *http.Request, a *service.Answer) {
	h := w.Header()
	h.Set(headerSQL, oneLine(a.SQL))
	h.Set(headerRowCount, strconv.Itoa(a.RowCount))
	h.Set(headerElapsed, strconv.FormatInt(a.ElapsedMs, 10))
	if a.Unreliable {
		h.Set(headerUnreliable, "true")
	}

	if !wantsJSON(r) {
		h.Set("Content-Type", columnar.ContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(a.Payload)
		return
	}

	tbl, err := columnar.Decode(a.Payload)
	if err != nil {
		s.writeError(w, r, nerrors.Wrap(nerrors.SerializationError, "decode payload", err))
		return
	}
	rows := tbl.Rows
	if rows == nil {
		rows = [][]any{}
	}
	writeJSON(w, http.StatusOK, jsonAnswer{
		SQL:        a.SQL,
		RawOutput:  a.RawOutput,
		RowCount:   a.RowCount,
		ElapsedMs:  a.ElapsedMs,
		Columns:    a.Columns,
		Rows:       rows,
		Unreliable: a.Unreliable,
	})
}

// oneLine makes a statement safe for a header value.
func oneLine(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) listSubjects(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"subjects": s.svc.ListSubjects()})
}

func (s *Server) createSubject(w http.ResponseWriter, r *http.Request) {
	var req subjectRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.svc.CreateSubject(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) deleteSubject(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteSubject(r.Context(), mux.Vars(r)["name"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) selectSubject(w http.ResponseWriter, r *http.Request) {
	var req subjectRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.svc.SelectCurrentSubject(r.Context(), req.Name); err != nil {
		s.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieSubject,
		Value:    req.Name,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"subject": req.Name})
}

func (s *Server) schema(w http.ResponseWriter, r *http.Request) {
	text, err := s.svc.GetSchema(subjectContext(r), r.URL.Query().Get("subject"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, text+"\n")
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.svc.ExecuteNaturalLanguageQuery(subjectContext(r), req.Subject, req.Question)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeAnswer(w, r, a)
}

func (s *Server) rawSQL(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.svc.ExecuteRawQuery(subjectContext(r), req.Subject, req.SQL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeAnswer(w, r, a)
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	a, err := s.svc.Preview(r.Context(), vars["name"], vars["table"], limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeAnswer(w, r, a)
}
