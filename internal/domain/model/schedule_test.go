package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCreateRequest() CreateScheduleRequest {
	return CreateScheduleRequest{
		Recipient: "ops@example.com",
		Subject:   "morning briefing",
		DueAt:     "2024-06-01T09:00:00",
		Timezone:  "Asia/Dubai",
		Latitude:  NewCoordinate(25.276987),
		Longitude: NewCoordinate(55.296249),
	}
}

func TestCreateScheduleRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CreateScheduleRequest)
		wantErr string
	}{
		{name: "valid", mutate: func(r *CreateScheduleRequest) {}},
		{
			name:    "missing recipient",
			mutate:  func(r *CreateScheduleRequest) { r.Recipient = "" },
			wantErr: "recipient is required",
		},
		{
			name:    "recipient without at sign",
			mutate:  func(r *CreateScheduleRequest) { r.Recipient = "nobody" },
			wantErr: "not a mail address",
		},
		{
			name:    "missing subject",
			mutate:  func(r *CreateScheduleRequest) { r.Subject = "" },
			wantErr: "subject is required",
		},
		{
			name:    "missing due time",
			mutate:  func(r *CreateScheduleRequest) { r.DueAt = "" },
			wantErr: "due time is required",
		},
		{
			name:    "unparseable due time",
			mutate:  func(r *CreateScheduleRequest) { r.DueAt = "soonish" },
			wantErr: "invalid due time",
		},
		{
			name:    "unknown zone",
			mutate:  func(r *CreateScheduleRequest) { r.Timezone = "Atlantis/Central" },
			wantErr: "invalid due time",
		},
		{
			name:    "latitude out of range",
			mutate:  func(r *CreateScheduleRequest) { r.Latitude = NewCoordinate(91) },
			wantErr: "latitude",
		},
		{
			name:    "longitude out of range",
			mutate:  func(r *CreateScheduleRequest) { r.Longitude = NewCoordinate(-200) },
			wantErr: "longitude",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateRequest()
			tt.mutate(&req)
			req.Normalize()
			err := req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNormalizeDefaultsTimezone(t *testing.T) {
	req := validCreateRequest()
	req.Timezone = "  "
	req.Normalize()
	assert.Equal(t, "UTC", req.Timezone)
}

func TestNormalizeDefaultsAbsentCoordinates(t *testing.T) {
	req := validCreateRequest()
	req.Latitude = nil
	req.Longitude = nil
	req.Normalize()

	require.NotNil(t, req.Latitude)
	require.NotNil(t, req.Longitude)
	assert.InDelta(t, DefaultLatitude, float64(*req.Latitude), 1e-9)
	assert.InDelta(t, DefaultLongitude, float64(*req.Longitude), 1e-9)

	// A submitted coordinate survives normalization even when the other is
	// absent.
	req = validCreateRequest()
	req.Longitude = nil
	req.Normalize()
	assert.InDelta(t, 25.276987, float64(*req.Latitude), 1e-9)
	assert.InDelta(t, DefaultLongitude, float64(*req.Longitude), 1e-9)
}

func TestCoordinateUnmarshal(t *testing.T) {
	var req CreateScheduleRequest
	payload := `{"recipient":"a@b.c","subject":"s","due_at":"2024-06-01T09:00:00Z","latitude":"25.276987","longitude":55.296249}`
	require.NoError(t, json.Unmarshal([]byte(payload), &req))

	require.NotNil(t, req.Latitude)
	require.NotNil(t, req.Longitude)
	assert.InDelta(t, 25.276987, float64(*req.Latitude), 1e-9)
	assert.InDelta(t, 55.296249, float64(*req.Longitude), 1e-9)

	err := json.Unmarshal([]byte(`{"latitude":"north"}`), &req)
	require.Error(t, err)
}

func TestScheduleStatus(t *testing.T) {
	assert.True(t, ScheduleStatusPending.Valid())
	assert.False(t, ScheduleStatus("archived").Valid())

	assert.False(t, ScheduleStatusPending.Terminal())
	assert.True(t, ScheduleStatusSent.Terminal())
	assert.True(t, ScheduleStatusCancelled.Terminal())
	assert.True(t, ScheduleStatusFailed.Terminal())
}
