package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

// Stage names a milestone in a job's life.
type Stage string

// Supported stages.
const (
	StageJobStart Stage = "JOB_START"
	StagePageDone Stage = "PAGE_DONE"
	StageJobDone  Stage = "JOB_DONE"
	StageJobError Stage = "JOB_ERROR"
)

// Event is one milestone of one job.
type Event struct {
	JobID string
	TS    time.Time
	Stage Stage
	// URL is set for page events and carries the job root otherwise.
	URL        string
	PageIndex  int
	PageStatus crawler.PageStatus
	StatusCode int
	Dur        time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate rejects events a sink could not make sense of.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError:
	case StagePageDone:
		if e.URL == "" {
			return errors.New("page event requires url")
		}
		if e.PageStatus == "" {
			return errors.New("page event requires page status")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// PageEvent builds the event for a recorded page.
func PageEvent(page crawler.PageRecord) Event {
	return Event{
		JobID:      page.JobID,
		TS:         page.FetchedAt,
		Stage:      StagePageDone,
		URL:        page.URL,
		PageIndex:  page.Index,
		PageStatus: page.Status,
		StatusCode: page.StatusCode,
		Dur:        time.Duration(page.DurationMs) * time.Millisecond,
		Note:       page.Error,
	}
}
