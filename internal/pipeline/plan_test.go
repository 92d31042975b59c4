package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raphaelgruber/jobingest/internal/models"
)

func record(status models.Status, mods ...func(*models.IngestionRecord)) *models.IngestionRecord {
	r := &models.IngestionRecord{ID: "r1", SourceURL: "https://example.com/job/42", Status: status}
	for _, m := range mods {
		m(r)
	}
	return r
}

func withContent(c string) func(*models.IngestionRecord) {
	return func(r *models.IngestionRecord) { r.Content = &c }
}

func TestPlanCreate(t *testing.T) {
	tests := []struct {
		name   string
		after  *models.IngestionRecord
		action Action
		msg    string
	}{
		{"nil", nil, ActionNone, ""},
		{"pending", record(models.StatusPending), ActionScrape, ""},
		{"redundant delivery", record(models.StatusScraped, withContent("<p>x</p>")), ActionNone, ""},
		{"already failed", record(models.StatusFailed), ActionNone, ""},
		{"bad url", record(models.StatusPending, func(r *models.IngestionRecord) { r.SourceURL = "ftp://x" }), ActionFail, "Invalid or missing URL"},
		{"empty url", record(models.StatusPending, func(r *models.IngestionRecord) { r.SourceURL = "" }), ActionFail, "Invalid or missing URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanCreate(tt.after)
			assert.Equal(t, tt.action, plan.Action, plan.Reason)
			if tt.action == ActionFail {
				assert.Equal(t, models.StatusPending, plan.From)
				assert.Equal(t, models.StatusFailed, plan.Mutation.Status)
				assert.Equal(t, tt.msg, *plan.Mutation.ErrorMessage)
			}
		})
	}
}

func TestPlanWrite(t *testing.T) {
	data := &models.JobData{Position: "Backend Engineer"}

	tests := []struct {
		name   string
		before *models.IngestionRecord
		after  *models.IngestionRecord
		action Action
	}{
		{"nil", nil, nil, ActionNone},
		{"pending", nil, record(models.StatusPending), ActionNone},
		{"scraped", record(models.StatusPending), record(models.StatusScraped, withContent("<p>x</p>")), ActionParse},
		{"scraped without before", nil, record(models.StatusScraped, withContent("<p>x</p>")), ActionParse},
		{"parsing", record(models.StatusScraped), record(models.StatusParsing, withContent("<p>x</p>")), ActionNone},
		{"parsed", record(models.StatusParsing), record(models.StatusParsed, withContent("<p>x</p>")), ActionNone},
		{"failed", record(models.StatusPending), record(models.StatusFailed), ActionNone},
		{"parse-failed", record(models.StatusParsing), record(models.StatusParseFailed), ActionNone},
		{"extracted data present", record(models.StatusPending), record(models.StatusScraped, withContent("<p>x</p>"), func(r *models.IngestionRecord) { r.ExtractedData = data }), ActionNone},
		{"status unchanged", record(models.StatusScraped, withContent("<p>x</p>")), record(models.StatusScraped, withContent("<p>x</p>")), ActionNone},
		{"missing content", record(models.StatusPending), record(models.StatusScraped), ActionFail},
		{"empty content", record(models.StatusPending), record(models.StatusScraped, withContent("")), ActionFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanWrite(tt.before, tt.after)
			assert.Equal(t, tt.action, plan.Action, plan.Reason)

			switch tt.action {
			case ActionParse:
				assert.Equal(t, models.StatusScraped, plan.From)
				assert.Equal(t, models.StatusParsing, plan.Mutation.Status)
			case ActionFail:
				assert.Equal(t, models.StatusScraped, plan.From)
				assert.Equal(t, models.StatusParseFailed, plan.Mutation.Status)
				assert.Equal(t, "No content to parse", *plan.Mutation.ErrorMessage)
			}
		})
	}
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "none", ActionNone.String())
	assert.Equal(t, "scrape", ActionScrape.String())
	assert.Equal(t, "parse", ActionParse.String())
	assert.Equal(t, "fail", ActionFail.String())
}
