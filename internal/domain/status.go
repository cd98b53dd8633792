package domain

// jobTransitions defines every legal job status change. Statuses missing
// from the outer map are terminal.
var jobTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusPending: {
		JobStatusRunning:   true,
		JobStatusCancelled: true,
	},
	JobStatusRunning: {
		JobStatusSucceeded: true,
		JobStatusFailed:    true,
		JobStatusRetrying:  true,
		JobStatusCancelled: true,
		// lease expiry hands the job back to the queue
		JobStatusPending: true,
	},
	JobStatusRetrying: {
		JobStatusRunning:   true,
		JobStatusFailed:    true,
		JobStatusCancelled: true,
	},
}

// CanTransition reports whether a job may move from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	allowed, ok := jobTransitions[s]
	if !ok {
		return false
	}
	return allowed[next]
}

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Active reports whether the job still occupies the queue.
func (s JobStatus) Active() bool {
	return !s.Terminal()
}

// Leasable reports whether a worker may pick the job up.
func (s JobStatus) Leasable() bool {
	return s == JobStatusPending || s == JobStatusRetrying
}

var downloadTransitions = map[DownloadState]map[DownloadState]bool{
	DownloadStateNotFound: {
		DownloadStateAvailable: true,
	},
	DownloadStateAvailable: {
		DownloadStateQueued: true,
		// the source stopped listing the track
		DownloadStateNotFound: true,
	},
	DownloadStateQueued: {
		DownloadStateDownloading: true,
		DownloadStateFailed:      true,
		DownloadStateAvailable:   true,
		// a resubmission found the source no longer lists the track
		DownloadStateNotFound: true,
	},
	DownloadStateDownloading: {
		DownloadStateLocal:  true,
		DownloadStateFailed: true,
		// orphan sweep requeues transfers the daemon lost
		DownloadStateAvailable: true,
	},
	DownloadStateFailed: {
		// only via an explicit operator retry
		DownloadStateQueued: true,
	},
}

// CanTransition reports whether a download request may move from s to next.
func (s DownloadState) CanTransition(next DownloadState) bool {
	allowed, ok := downloadTransitions[s]
	if !ok {
		return false
	}
	return allowed[next]
}

// Terminal reports whether the request reached a resting state. Failed is
// resting but not dead: an explicit retry may requeue it.
func (s DownloadState) Terminal() bool {
	return s == DownloadStateLocal
}

// InFlight reports whether the daemon should currently know about the request.
func (s DownloadState) InFlight() bool {
	return s == DownloadStateQueued || s == DownloadStateDownloading
}
