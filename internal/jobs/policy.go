package jobs

import "wpdock/internal/domain"

// outcome is the status change a finished job applies to its site.
type outcome struct {
	status domain.SiteStatus
	apply  bool
}

// statusAfter maps a finished job to the site status it leaves behind.
// Backups never change status; a failed restore only does when it had
// already overwritten live data.
func statusAfter(kind domain.JobKind, failed, liveDataTouched bool) outcome {
	switch kind {
	case domain.JobCreate, domain.JobRestart:
		if failed {
			return outcome{status: domain.StatusError, apply: true}
		}
		return outcome{status: domain.StatusActive, apply: true}
	case domain.JobDelete:
		if failed {
			return outcome{status: domain.StatusError, apply: true}
		}
	case domain.JobRestore:
		if !failed {
			return outcome{status: domain.StatusActive, apply: true}
		}
		if liveDataTouched {
			return outcome{status: domain.StatusError, apply: true}
		}
	}
	return outcome{}
}
