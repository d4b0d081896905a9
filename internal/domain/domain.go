// Package domain re-exports the jobs/ and sites/ model packages under one
// import path so repos/services/jobs code can write types.JobRun,
// types.StageFetch, etc. without importing both subpackages directly.
package domain

import (
	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
	"github.com/yungbote/neurobridge-backend/internal/domain/sites"
)

type JobRun = jobs.JobRun
type JobRunEvent = jobs.JobRunEvent
type JobEventKind = jobs.JobEventKind

const (
	StatusQueued    = jobs.StatusQueued
	StatusDeferred  = jobs.StatusDeferred
	StatusRunning   = jobs.StatusRunning
	StatusSucceeded = jobs.StatusSucceeded
	StatusFailed    = jobs.StatusFailed
	StatusCanceled  = jobs.StatusCanceled
)

const (
	QueueHigh        = jobs.QueueHigh
	QueueFetch       = jobs.QueueFetch
	QueueOCR         = jobs.QueueOCR
	QueueCompilation = jobs.QueueCompilation
	QueueExtraction  = jobs.QueueExtraction
	QueueDeploy      = jobs.QueueDeploy
)

const (
	JobTypeFetch          = jobs.JobTypeFetch
	JobTypeOCRPage        = jobs.JobTypeOCRPage
	JobTypeOCRCoordinator = jobs.JobTypeOCRCoordinator
	JobTypeCompile        = jobs.JobTypeCompile
	JobTypeExtract        = jobs.JobTypeExtract
	JobTypeDeploy         = jobs.JobTypeDeploy
)

const (
	JobEventCreated   = jobs.JobEventCreated
	JobEventProgress  = jobs.JobEventProgress
	JobEventFailed    = jobs.JobEventFailed
	JobEventSucceeded = jobs.JobEventSucceeded
)

type Site = sites.Site
type Stage = sites.Stage
type SiteStatus = sites.Status

const (
	StageNone        = sites.StageNone
	StageFetch       = sites.StageFetch
	StageOCR         = sites.StageOCR
	StageCompilation = sites.StageCompilation
	StageExtraction  = sites.StageExtraction
	StageDeploy      = sites.StageDeploy
	StageCompleted   = sites.StageCompleted
)

const (
	StatusNew         = sites.StatusNew
	StatusFetching    = sites.StatusFetching
	StatusNeedsOCR    = sites.StatusNeedsOCR
	StatusCompiling   = sites.StatusCompiling
	StatusExtracting  = sites.StatusExtracting
	StatusNeedsDeploy = sites.StatusNeedsDeploy
	StatusDeployed    = sites.StatusDeployed
)

// DeriveStatus computes the legacy operator-facing status from a stage.
func DeriveStatus(stage Stage) SiteStatus { return sites.DeriveStatus(stage) }

// StageColumnPrefix returns the column-name prefix for a stage's counters.
func StageColumnPrefix(stage Stage) (string, bool) { return sites.StageColumnPrefix(stage) }
