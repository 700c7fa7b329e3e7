package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/vet-telehealth/internal/apperr"
	"github.com/hackgods/vet-telehealth/internal/appointment"
	"github.com/hackgods/vet-telehealth/internal/validation"
)

func createAppointmentHandler(svc *appointment.Coordinator, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req appointment.BookRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}

		appt, err := svc.Book(r.Context(), req)
		if err != nil {
			writeError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func listAppointmentsHandler(svc *appointment.Coordinator, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := appointmentFilter(r)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		p, err := pageQuery(r)
		if err != nil {
			writeError(w, r, log, err)
			return
		}

		res, err := svc.List(r.Context(), f, p)
		if err != nil {
			writeError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toPageResponse(res, toAppointmentResponse))
	}
}

func appointmentFilter(r *http.Request) (appointment.Filter, error) {
	q := r.URL.Query()
	fields := map[string]string{}
	var f appointment.Filter

	switch s := appointment.Status(q.Get("status")); s {
	case "":
	case appointment.StatusScheduled, appointment.StatusCompleted, appointment.StatusCancelled, appointment.StatusNoShow:
		f.Status = s
	default:
		fields["status"] = "must be one of [scheduled completed cancelled no_show]"
	}

	var err error
	if f.ProviderID, err = optionalUUIDQuery(r, "providerId"); err != nil {
		fields["providerId"] = "must be a valid UUID"
	}
	if f.RequesterID, err = optionalUUIDQuery(r, "requesterId"); err != nil {
		fields["requesterId"] = "must be a valid UUID"
	}
	if f.PetID, err = optionalUUIDQuery(r, "petId"); err != nil {
		fields["petId"] = "must be a valid UUID"
	}
	if f.From, err = timeQuery(q.Get("from")); err != nil {
		fields["from"] = "must be an RFC 3339 time or YYYY-MM-DD"
	}
	if f.To, err = timeQuery(q.Get("to")); err != nil {
		fields["to"] = "must be an RFC 3339 time or YYYY-MM-DD"
	}
	if f.MinFee, err = feeQuery(q.Get("minFee")); err != nil {
		fields["minFee"] = "must be a non-negative number"
	}
	if f.MaxFee, err = feeQuery(q.Get("maxFee")); err != nil {
		fields["maxFee"] = "must be a non-negative number"
	}
	if f.MinFee != nil && f.MaxFee != nil && *f.MinFee > *f.MaxFee {
		fields["maxFee"] = "must be greater than or equal to minFee"
	}
	f.IncludeDeleted = q.Get("includeDeleted") == "true"
	f.Ascending = q.Get("sort") == "asc"

	if len(fields) > 0 {
		return appointment.Filter{}, apperr.Validation(fields)
	}
	return f, nil
}

func timeQuery(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", raw)
}

func feeQuery(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return nil, strconv.ErrRange
	}
	return &v, nil
}

func getAppointmentHandler(svc *appointment.Coordinator, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			writeError(w, r, log, err)
			return
		}

		d, err := svc.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponse(d))
	}
}

func cancelAppointmentHandler(svc *appointment.Coordinator, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			writeError(w, r, log, err)
			return
		}

		var req CancelRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, log, err)
				return
			}
		}
		if err := validation.Struct(req); err != nil {
			writeError(w, r, log, err)
			return
		}

		appt, err := svc.Cancel(r.Context(), id, req.Reason)
		if err != nil {
			writeError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

// transitionHandler serves the vet-side lifecycle endpoints.
func transitionHandler(
	op func(r *http.Request) (*appointment.Appointment, error),
	log zerolog.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := op(r)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func completeAppointmentHandler(svc *appointment.Coordinator, log zerolog.Logger) http.HandlerFunc {
	return transitionHandler(func(r *http.Request) (*appointment.Appointment, error) {
		id, err := uuidParam(r, "id")
		if err != nil {
			return nil, err
		}
		return svc.Complete(r.Context(), id)
	}, log)
}

func noShowAppointmentHandler(svc *appointment.Coordinator, log zerolog.Logger) http.HandlerFunc {
	return transitionHandler(func(r *http.Request) (*appointment.Appointment, error) {
		id, err := uuidParam(r, "id")
		if err != nil {
			return nil, err
		}
		return svc.MarkNoShow(r.Context(), id)
	}, log)
}

func deleteAppointmentHandler(svc *appointment.Coordinator, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		if err := svc.SoftDelete(r.Context(), id); err != nil {
			writeError(w, r, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type meetingCheckResponse struct {
	Valid bool `json:"valid"`
}

func verifyMeetingLinkHandler(svc *appointment.Coordinator, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		link := r.URL.Query().Get("link")
		if link == "" {
			writeError(w, r, log, apperr.Validation(map[string]string{"link": "is required"}))
			return
		}
		ok, err := svc.VerifyMeetingLink(r.Context(), id, link)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, meetingCheckResponse{Valid: ok})
	}
}
