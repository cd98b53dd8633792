package dto

import (
	"soulspot/internal/app"
	"soulspot/internal/domain"
	"soulspot/internal/scheduler"
	"soulspot/internal/supervisor"
)

type TaskResponse struct {
	Name     string `json:"name"`
	Interval string `json:"interval"`
	Enabled  bool   `json:"enabled"`
	Running  bool   `json:"running"`
	LastRun  string `json:"last_run,omitempty"`
	NextRun  string `json:"next_run,omitempty"`
	Error    string `json:"error,omitempty"`
}

func NewTaskResponse(info *scheduler.Info) TaskResponse {
	return TaskResponse{
		Name:     info.Name,
		Interval: info.Every.String(),
		Enabled:  info.Enabled,
		Running:  info.Running,
		LastRun:  formatTimePtr(info.LastRun),
		NextRun:  formatTimePtr(info.NextRun),
		Error:    info.LastErr,
	}
}

func NewTaskListResponse(infos []*scheduler.Info) []TaskResponse {
	resp := make([]TaskResponse, 0, len(infos))
	for _, info := range infos {
		resp = append(resp, NewTaskResponse(info))
	}
	return resp
}

type WorkerResponse struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	LastSuccess         string `json:"last_success,omitempty"`
	ErrorCount          int    `json:"error_count"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Error               string `json:"error,omitempty"`
}

func NewWorkerResponse(ws *supervisor.WorkerStatus) WorkerResponse {
	return WorkerResponse{
		Name:                ws.Name,
		State:               ws.State,
		LastSuccess:         formatTimePtr(ws.LastSuccess),
		ErrorCount:          ws.ErrorCount,
		ConsecutiveFailures: ws.ConsecutiveFailures,
		Error:               ws.LastError,
	}
}

func NewWorkerListResponse(statuses []*supervisor.WorkerStatus) []WorkerResponse {
	resp := make([]WorkerResponse, 0, len(statuses))
	for _, ws := range statuses {
		resp = append(resp, NewWorkerResponse(ws))
	}
	return resp
}

// StatsResponse is the combined view behind GET /api/stats.
type StatsResponse struct {
	Jobs      *domain.JobStats      `json:"jobs"`
	Downloads *domain.DownloadStats `json:"downloads"`
	Library   *app.LibraryCounts    `json:"library"`
}

// RemoveResponse reports how many entities a library delete took out,
// children included.
type RemoveResponse struct {
	Removed int `json:"removed"`
}
