package review

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/vet-telehealth/internal/apperr"
	"github.com/hackgods/vet-telehealth/internal/appointment"
	"github.com/hackgods/vet-telehealth/internal/auth"
	"github.com/hackgods/vet-telehealth/internal/page"
)

type fixture struct {
	svc    *Service
	appts  *appointment.MemoryRepository
	parent *appointment.PetParent
	vet    *appointment.Vet
	pet    *appointment.Pet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{appts: appointment.NewMemoryRepository()}
	f.svc = NewService(NewMemoryRepository(), f.appts, zerolog.Nop())

	var err error
	f.vet, err = f.appts.CreateVet(ctx, appointment.Vet{UserID: uuid.New(), Name: "Dr. Okafor"})
	require.NoError(t, err)
	f.parent, err = f.appts.CreatePetParent(ctx, appointment.PetParent{UserID: uuid.New(), Name: "Lu"})
	require.NoError(t, err)
	f.pet, err = f.appts.CreatePet(ctx, appointment.Pet{OwnerID: f.parent.ID, Name: "Tofu"})
	require.NoError(t, err)
	return f
}

func (f *fixture) appointment(t *testing.T, status appointment.Status) *appointment.Appointment {
	t.Helper()
	a, err := f.appts.Insert(context.Background(), appointment.Appointment{
		ProviderID:  f.vet.ID,
		RequesterID: f.parent.ID,
		PetID:       f.pet.ID,
		SlotID:      uuid.New(),
		ScheduledAt: time.Now().UTC(),
		Timezone:    "UTC",
		Type:        appointment.TypeVideoConsultation,
		Status:      status,
		Concerns:    []string{"limping"},
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) asParent() context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{UserID: f.parent.UserID, Role: auth.RolePetParent})
}

func TestCreate_OncePerCompletedAppointment(t *testing.T) {
	f := newFixture(t)
	a := f.appointment(t, appointment.StatusCompleted)
	req := CreateRequest{AppointmentID: a.ID.String(), Rating: 5, Comment: " very kind "}

	r, err := f.svc.Create(f.asParent(), req)
	require.NoError(t, err)
	assert.Equal(t, f.vet.ID, r.ProviderID)
	assert.Equal(t, "very kind", r.Comment)

	_, err = f.svc.Create(f.asParent(), req)
	assert.True(t, apperr.Is(err, apperr.CodeReviewExists))
}

func TestCreate_Rejections(t *testing.T) {
	f := newFixture(t)
	scheduled := f.appointment(t, appointment.StatusScheduled)
	completed := f.appointment(t, appointment.StatusCompleted)

	tests := []struct {
		name string
		ctx  context.Context
		req  CreateRequest
		want apperr.Code
	}{
		{"anonymous", context.Background(), CreateRequest{AppointmentID: completed.ID.String(), Rating: 4}, apperr.CodeUnauthorized},
		{"rating out of range", f.asParent(), CreateRequest{AppointmentID: completed.ID.String(), Rating: 6}, apperr.CodeValidation},
		{"missing appointment", f.asParent(), CreateRequest{AppointmentID: uuid.NewString(), Rating: 4}, apperr.CodeAppointmentNotFound},
		{"not completed", f.asParent(), CreateRequest{AppointmentID: scheduled.ID.String(), Rating: 4}, apperr.CodeInvalidStatusTransition},
		{
			"vet cannot review",
			auth.WithIdentity(context.Background(), auth.Identity{UserID: f.vet.UserID, Role: auth.RoleVet}),
			CreateRequest{AppointmentID: completed.ID.String(), Rating: 4},
			apperr.CodeForbidden,
		},
		{
			"other parent",
			auth.WithIdentity(context.Background(), auth.Identity{UserID: uuid.New(), Role: auth.RolePetParent, RefID: uuid.New()}),
			CreateRequest{AppointmentID: completed.ID.String(), Rating: 4},
			apperr.CodeForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(tt.ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.want, apperr.From(err).Code)
		})
	}
}

func TestListAndSummary(t *testing.T) {
	f := newFixture(t)
	for _, rating := range []int{2, 4, 5} {
		a := f.appointment(t, appointment.StatusCompleted)
		_, err := f.svc.Create(f.asParent(), CreateRequest{AppointmentID: a.ID.String(), Rating: rating})
		require.NoError(t, err)
	}

	res, err := f.svc.List(context.Background(), Filter{ProviderID: f.vet.ID, MinRating: 4}, page.Request{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, page.DefaultLimit, res.Limit)

	sum, err := f.svc.Summary(context.Background(), f.vet.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Count)
	assert.InDelta(t, 11.0/3.0, sum.Average, 1e-9)
}
