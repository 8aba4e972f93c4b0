package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Availability is the read-only view of resource schedules.
type Availability struct {
	repo Repository
}

func NewAvailability(repo Repository) *Availability {
	return &Availability{repo: repo}
}

// Get returns the schedule for a resource on a date. ok is false when none exists.
// A schedule with Available=false is returned as-is; callers treat it as zero capacity.
func (a *Availability) Get(ctx context.Context, resourceID uuid.UUID, date time.Time) (*ResourceSchedule, bool, error) {
	s, err := a.repo.GetSchedule(ctx, resourceID, DateOf(date))
	if err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load resource schedule: %w", err)
	}
	return s, true, nil
}
