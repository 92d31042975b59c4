// Package pipeline implements the two ingestion triggers. Trigger A scrapes
// a newly created record; Trigger B extracts job data once a record is
// scraped. The record status is the only link between them.
package pipeline

import (
	"fmt"

	"github.com/raphaelgruber/jobingest/internal/fetch"
	"github.com/raphaelgruber/jobingest/internal/models"
)

// Action is the side effect a trigger should perform.
type Action int

const (
	ActionNone Action = iota
	ActionScrape
	ActionParse
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionScrape:
		return "scrape"
	case ActionParse:
		return "parse"
	case ActionFail:
		return "fail"
	default:
		return "none"
	}
}

// Plan is a trigger decision. For ActionFail and ActionParse, Mutation is
// applied conditionally on From.
type Plan struct {
	Action   Action
	From     models.Status
	Mutation models.Mutation
	Reason   string
}

const (
	msgNoContent      = "No content to parse"
	msgUnknown        = "Unknown error occurred"
	msgUnknownParsing = "Unknown error occurred during parsing"
)

// PlanCreate decides what Trigger A does for a freshly created record.
func PlanCreate(after *models.IngestionRecord) Plan {
	switch {
	case after == nil:
		return Plan{Reason: "no record"}
	case after.Status != models.StatusPending:
		return Plan{Reason: fmt.Sprintf("status is %s", after.Status)}
	case !fetch.ValidURL(after.SourceURL):
		return Plan{
			Action:   ActionFail,
			From:     models.StatusPending,
			Mutation: models.Failed(models.StatusFailed, fetch.InvalidURLError().Error()),
			Reason:   "invalid source URL",
		}
	}
	return Plan{Action: ActionScrape, From: models.StatusPending, Reason: "pending"}
}

// PlanWrite decides what Trigger B does after a write. Only a write that
// moved a record into scraped starts extraction.
func PlanWrite(before, after *models.IngestionRecord) Plan {
	switch {
	case after == nil:
		return Plan{Reason: "no record"}
	case after.Status != models.StatusScraped:
		return Plan{Reason: fmt.Sprintf("status is %s", after.Status)}
	case after.ExtractedData != nil:
		return Plan{Reason: "already extracted"}
	case before != nil && before.Status == models.StatusScraped:
		return Plan{Reason: "status unchanged"}
	case after.Content == nil || *after.Content == "":
		return Plan{
			Action:   ActionFail,
			From:     models.StatusScraped,
			Mutation: models.Failed(models.StatusParseFailed, msgNoContent),
			Reason:   "scraped without content",
		}
	}
	return Plan{Action: ActionParse, From: models.StatusScraped, Mutation: models.Parsing(), Reason: "scraped"}
}
