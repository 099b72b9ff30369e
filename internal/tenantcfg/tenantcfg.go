// Package tenantcfg reads per-tenant office configuration. Values live in
// the office_config table as name/value strings; typed accessors apply the
// platform defaults when a tenant has no row for a key.
package tenantcfg

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Recognized configuration keys.
const (
	KeyAppointmentDuration = "duracion_cita_minutos"
	KeyAutoConfirm         = "confirmacion_automatica"
	KeyAutoCancelEnabled   = "auto_cancelacion_habilitada"
	KeyOfficeTimezone      = "office_timezone"
)

const (
	DefaultDurationMinutes = 45
	DefaultTimezone        = "America/La_Paz"
)

// Reader resolves a single configuration value for a tenant. The second
// return value is false when the tenant has no entry for the key.
type Reader interface {
	Get(ctx context.Context, tenantID uuid.UUID, name string) (string, bool, error)
}

// AppointmentDuration returns the configured appointment length.
func AppointmentDuration(ctx context.Context, r Reader, tenantID uuid.UUID) (time.Duration, error) {
	raw, ok, err := r.Get(ctx, tenantID, KeyAppointmentDuration)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", KeyAppointmentDuration, err)
	}
	if !ok {
		return DefaultDurationMinutes * time.Minute, nil
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		return 0, fmt.Errorf("invalid %s value %q", KeyAppointmentDuration, raw)
	}
	return time.Duration(minutes) * time.Minute, nil
}

// AutoConfirm reports whether new appointments start confirmed instead of
// pending.
func AutoConfirm(ctx context.Context, r Reader, tenantID uuid.UUID) (bool, error) {
	return boolKey(ctx, r, tenantID, KeyAutoConfirm)
}

// AutoCancelEnabled reports whether the 6-hour auto-cancellation sweep is
// active for the tenant.
func AutoCancelEnabled(ctx context.Context, r Reader, tenantID uuid.UUID) (bool, error) {
	return boolKey(ctx, r, tenantID, KeyAutoCancelEnabled)
}

// Location returns the tenant's office timezone.
func Location(ctx context.Context, r Reader, tenantID uuid.UUID) (*time.Location, error) {
	name, ok, err := r.Get(ctx, tenantID, KeyOfficeTimezone)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", KeyOfficeTimezone, err)
	}
	if !ok || name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

func boolKey(ctx context.Context, r Reader, tenantID uuid.UUID, name string) (bool, error) {
	raw, ok, err := r.Get(ctx, tenantID, name)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if !ok {
		return false, nil
	}
	switch raw {
	case "1", "true", "TRUE", "True":
		return true, nil
	default:
		return false, nil
	}
}

// Static is an immutable in-memory Reader keyed by tenant and name, used in
// tests and the seeding tools.
type Static map[uuid.UUID]map[string]string

func (s Static) Get(_ context.Context, tenantID uuid.UUID, name string) (string, bool, error) {
	values, ok := s[tenantID]
	if !ok {
		return "", false, nil
	}
	v, ok := values[name]
	return v, ok, nil
}
