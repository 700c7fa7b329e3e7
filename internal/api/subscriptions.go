package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-telehealth/internal/apperr"
	"github.com/hackgods/vet-telehealth/internal/appointment"
	"github.com/hackgods/vet-telehealth/internal/auth"
	"github.com/hackgods/vet-telehealth/internal/subscription"
	"github.com/hackgods/vet-telehealth/internal/validation"
)

func subscriptionErr(err error) error {
	switch {
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		return apperr.Wrap(apperr.CodeSubscriptionNotFound, "subscription not found", err)
	case errors.Is(err, subscription.ErrSubscriptionInactive):
		return apperr.Wrap(apperr.CodeInvalidStatusTransition, "subscription is not active", err)
	case errors.Is(err, subscription.ErrDuplicateActiveSubscription):
		return apperr.Wrap(apperr.CodeDuplicateActiveSubscription, "an active subscription already exists for this year", err)
	}
	return err
}

// targetParent is the pet parent a subscription read is about. Pet parents
// always read their own; vets and admins must name one.
func targetParent(ctx context.Context, r *http.Request, dir appointment.Directory) (uuid.UUID, error) {
	caller, ok := auth.FromContext(ctx)
	if !ok {
		return uuid.Nil, apperr.New(apperr.CodeUnauthorized, "authentication required")
	}
	requested, err := optionalUUIDQuery(r, "petParentId")
	if err != nil {
		return uuid.Nil, err
	}

	if caller.Role == auth.RolePetParent {
		self, err := appointment.ParticipantRef(ctx, dir, caller)
		if err != nil {
			return uuid.Nil, err
		}
		if requested != uuid.Nil && requested != self {
			return uuid.Nil, apperr.New(apperr.CodeForbidden, "pet parents can only read their own subscription")
		}
		return self, nil
	}
	if requested == uuid.Nil {
		return uuid.Nil, apperr.Validation(map[string]string{"petParentId": "is required"})
	}
	return requested, nil
}

func quotaHandler(ledger *subscription.Ledger, dir appointment.Directory, now func() time.Time, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parentID, err := targetParent(r.Context(), r, dir)
		if err != nil {
			writeError(w, r, log, err)
			return
		}

		policy := ledger.Policy()
		year, err := intQuery(r, "year", now().UTC().Year())
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		if year < policy.MinQuotaYear || year > policy.MaxQuotaYear {
			writeError(w, r, log, apperr.Validation(map[string]string{
				"year": fmt.Sprintf("must be between %d and %d", policy.MinQuotaYear, policy.MaxQuotaYear),
			}))
			return
		}

		q, err := ledger.Quota(r.Context(), parentID, year)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toQuotaResponse(parentID, q))
	}
}

func activeSubscriptionHandler(ledger *subscription.Ledger, dir appointment.Directory, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parentID, err := targetParent(r.Context(), r, dir)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		s, err := ledger.GetActive(r.Context(), parentID)
		if err != nil {
			writeError(w, r, log, subscriptionErr(err))
			return
		}
		writeJSON(w, http.StatusOK, toSubscriptionResponse(s))
	}
}

func subscriptionHistoryHandler(ledger *subscription.Ledger, dir appointment.Directory, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parentID, err := targetParent(r.Context(), r, dir)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		subs, err := ledger.ListForParent(r.Context(), parentID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		out := make([]SubscriptionResponse, 0, len(subs))
		for i := range subs {
			out = append(out, toSubscriptionResponse(&subs[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func deactivateSubscriptionHandler(ledger *subscription.Ledger, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := auth.FromContext(r.Context())
		if !caller.IsAdmin() {
			writeError(w, r, log, apperr.New(apperr.CodeForbidden, "admin only"))
			return
		}
		id, err := uuidParam(r, "id")
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		var req DeactivateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}
		if err := validation.Struct(req); err != nil {
			writeError(w, r, log, err)
			return
		}

		s, err := ledger.Deactivate(r.Context(), id, req.Reason)
		if err != nil {
			writeError(w, r, log, subscriptionErr(err))
			return
		}
		writeJSON(w, http.StatusOK, toSubscriptionResponse(s))
	}
}
