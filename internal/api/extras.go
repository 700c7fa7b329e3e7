package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-telehealth/internal/apperr"
	"github.com/hackgods/vet-telehealth/internal/appointment"
	"github.com/hackgods/vet-telehealth/internal/auth"
	"github.com/hackgods/vet-telehealth/internal/notification"
	"github.com/hackgods/vet-telehealth/internal/review"
	"github.com/hackgods/vet-telehealth/internal/slot"
)

func slotStatsHandler(slots slot.Store, dir appointment.Directory, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := auth.FromContext(r.Context())
		providerID, err := optionalUUIDQuery(r, "providerId")
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		if providerID == uuid.Nil && caller.Role == auth.RoleVet {
			if providerID, err = appointment.ParticipantRef(r.Context(), dir, caller); err != nil {
				writeError(w, r, log, err)
				return
			}
		}
		if providerID == uuid.Nil {
			writeError(w, r, log, apperr.Validation(map[string]string{"providerId": "is required"}))
			return
		}

		from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
		fields := map[string]string{}
		for name, v := range map[string]string{"from": from, "to": to} {
			if v == "" {
				continue
			}
			if _, err := time.Parse("2006-01-02", v); err != nil {
				fields[name] = "must be YYYY-MM-DD"
			}
		}
		if len(fields) > 0 {
			writeError(w, r, log, apperr.Validation(fields))
			return
		}

		st, err := slots.Stats(r.Context(), providerID, from, to)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotStatsResponse(st))
	}
}

func createReviewHandler(svc *review.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req review.CreateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}
		rv, err := svc.Create(r.Context(), req)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, toReviewResponse(*rv))
	}
}

func listReviewsHandler(svc *review.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f review.Filter
		var err error
		if f.ProviderID, err = optionalUUIDQuery(r, "providerId"); err != nil {
			writeError(w, r, log, err)
			return
		}
		if f.MinRating, err = intQuery(r, "minRating", 0); err != nil {
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
		resp := ReviewListResponse{PageResponse: toPageResponse(res, toReviewResponse)}
		if f.ProviderID != uuid.Nil {
			sum, err := svc.Summary(r.Context(), f.ProviderID)
			if err != nil {
				writeError(w, r, log, err)
				return
			}
			resp.Average = &sum.Average
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listNotificationsHandler(repo notification.Repository, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := auth.FromContext(r.Context())
		p, err := pageQuery(r)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		res, err := repo.ListForUser(r.Context(), caller.UserID, p)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toPageResponse(res, toNotificationResponse))
	}
}
