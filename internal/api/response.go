package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-telehealth/internal/apperr"
	"github.com/hackgods/vet-telehealth/internal/page"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the stable error code of err. Causes of internal
// errors are logged, never sent.
func writeError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	appErr := apperr.From(err)
	status := appErr.Code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeJSON(w, status, ErrorResponse{
		Error:   string(appErr.Code),
		Message: appErr.Message,
		Fields:  appErr.Fields,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation(map[string]string{"body": "is required"})
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return apperr.Validation(map[string]string{typeErr.Field: fmt.Sprintf("must be a %s", typeErr.Type)})
		}
		return apperr.Validation(map[string]string{"body": "must be valid JSON"})
	}
	return nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Validation(map[string]string{name: "must be a valid UUID"})
	}
	return id, nil
}

// optionalUUIDQuery returns uuid.Nil when the parameter is absent.
func optionalUUIDQuery(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Validation(map[string]string{name: "must be a valid UUID"})
	}
	return id, nil
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation(map[string]string{name: "must be an integer"})
	}
	return n, nil
}

func pageQuery(r *http.Request) (page.Request, error) {
	p, err := intQuery(r, "page", page.DefaultPage)
	if err != nil {
		return page.Request{}, err
	}
	limit, err := intQuery(r, "limit", page.DefaultLimit)
	if err != nil {
		return page.Request{}, err
	}
	return page.Normalize(p, limit), nil
}
