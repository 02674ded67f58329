package api

import (
	"github.com/JaimeStill/arbor/internal/history"
	"github.com/JaimeStill/arbor/internal/records"
	"github.com/JaimeStill/arbor/internal/workflow"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Records  records.System
	History  history.System
	Workflow *workflow.Runtime
}

// NewDomain creates all domain systems from the API runtime.
func NewDomain(runtime *Runtime, wf *workflow.Config) *Domain {
	recordsSystem := records.New(
		runtime.Database.Connection(),
		runtime.Storage,
		runtime.Auth,
		runtime.Logger,
		runtime.Pagination,
	)

	historySystem := history.New(
		runtime.Database.Connection(),
		runtime.Auth,
		runtime.Logger,
		runtime.Pagination,
	)

	return &Domain{
		Records: recordsSystem,
		History: historySystem,
		Workflow: &workflow.Runtime{
			Auth:        runtime.Auth,
			Recognition: runtime.Recognition,
			Storage:     runtime.Storage,
			Records:     recordsSystem,
			History:     historySystem,
			Owners:      historySystem,
			Retry:       runtime.Retry,
			Folders:     wf.Folders(),
			Limits:      wf.Limits(),
			Logger:      runtime.Logger,
		},
	}
}
