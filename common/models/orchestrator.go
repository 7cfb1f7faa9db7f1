package models

import "time"

// OrchestratorStatus is reported by the ingestion service over the control
// plane.
type OrchestratorStatus struct {
	IsRunning      bool       `json:"isRunning"`
	CycleInFlight  bool       `json:"cycleInFlight"`
	SourcesInCycle int        `json:"sourcesInCycle"`
	LastRunTime    *time.Time `json:"lastRunTime"`
	NextRunTime    *time.Time `json:"nextRunTime"`
}
