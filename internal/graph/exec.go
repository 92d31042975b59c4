package graph

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/raphaelgruber/jobingest/internal/models"
	"github.com/raphaelgruber/jobingest/internal/service"
	"github.com/raphaelgruber/jobingest/internal/store"
)

// Error messages and codes returned in GraphQL errors.
const (
	MsgJobNotFound = "Job not found"
	MsgInternal    = "Internal Server Error"

	CodeBadUserInput = "BAD_USER_INPUT"
	CodeNotFound     = "NOT_FOUND"
	CodeInternal     = "INTERNAL_SERVER_ERROR"
)

var nullData = json.RawMessage("null")

// Exec resolves one operation. Queries and mutations answer once;
// subscriptions answer once per record state until the record is terminal.
func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	opCtx := graphql.GetOperationContext(ctx)

	switch opCtx.Operation.Operation {
	case ast.Query:
		return graphql.OneShot(e.query(ctx, opCtx))
	case ast.Mutation:
		return graphql.OneShot(e.mutation(ctx, opCtx))
	case ast.Subscription:
		return e.subscription(ctx, opCtx)
	default:
		return graphql.OneShot(graphql.ErrorResponse(ctx, "unsupported GraphQL operation"))
	}
}

func (e *executableSchema) query(ctx context.Context, opCtx *graphql.OperationContext) *graphql.Response {
	var out object
	var errs gqlerror.List

	for _, f := range graphql.CollectFields(opCtx, opCtx.Operation.SelectionSet, []string{"Query"}) {
		switch f.Name {
		case "__typename":
			out = out.set(f.Alias, "Query")
		case "job":
			id, _ := f.ArgumentMap(opCtx.Variables)["id"].(string)
			rec, err := e.svc.Get(ctx, id)
			switch {
			case errors.Is(err, store.ErrNotFound):
				out = out.set(f.Alias, nil)
			case err != nil:
				e.logger.Error("graphql job lookup failed", "record_id", id, "error", err)
				out = out.set(f.Alias, nil)
				errs = append(errs, fieldError(f.Alias, MsgInternal, CodeInternal))
			default:
				out = out.set(f.Alias, jobObject(opCtx, f.Selections, rec))
			}
		default:
			// __schema and __type reach here only with introspection enabled.
			out = out.set(f.Alias, nil)
			errs = append(errs, fieldError(f.Alias, "introspection disabled", CodeBadUserInput))
		}
	}
	return respond(out, errs)
}

func (e *executableSchema) mutation(ctx context.Context, opCtx *graphql.OperationContext) *graphql.Response {
	var out object

	for _, f := range graphql.CollectFields(opCtx, opCtx.Operation.SelectionSet, []string{"Mutation"}) {
		switch f.Name {
		case "__typename":
			out = out.set(f.Alias, "Mutation")
		case "requestJob":
			url, _ := f.ArgumentMap(opCtx.Variables)["url"].(string)
			id, _, err := e.svc.Request(ctx, url)
			switch {
			case errors.Is(err, service.ErrInvalidArgument):
				msg := service.MsgInvalidFormat
				if url == "" {
					msg = service.MsgMissingURL
				}
				// requestJob is non-null, so the error nulls the whole result.
				return respondNull(fieldError(f.Alias, msg, CodeBadUserInput))
			case err != nil:
				return respondNull(fieldError(f.Alias, MsgInternal, CodeInternal))
			}
			out = out.set(f.Alias, id)
		}
	}
	return respond(out, nil)
}

// subscription streams jobUpdated. Validation guarantees a single root field.
func (e *executableSchema) subscription(ctx context.Context, opCtx *graphql.OperationContext) graphql.ResponseHandler {
	fields := graphql.CollectFields(opCtx, opCtx.Operation.SelectionSet, []string{"Subscription"})
	if len(fields) != 1 || fields[0].Name != "jobUpdated" {
		return graphql.OneShot(graphql.ErrorResponse(ctx, "unsupported subscription"))
	}
	f := fields[0]
	id, _ := f.ArgumentMap(opCtx.Variables)["id"].(string)

	updates, err := e.svc.Watch(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return graphql.OneShot(respondNull(fieldError(f.Alias, MsgJobNotFound, CodeNotFound)))
	case err != nil:
		e.logger.Error("graphql subscription failed", "record_id", id, "error", err)
		return graphql.OneShot(respondNull(fieldError(f.Alias, MsgInternal, CodeInternal)))
	}

	return func(ctx context.Context) *graphql.Response {
		select {
		case rec, ok := <-updates:
			if !ok {
				return nil
			}
			return respond(object{}.set(f.Alias, jobObject(opCtx, f.Selections, &rec)), nil)
		case <-ctx.Done():
			return nil
		}
	}
}

func fieldError(alias, msg, code string) *gqlerror.Error {
	return &gqlerror.Error{
		Message:    msg,
		Path:       ast.Path{ast.PathName(alias)},
		Extensions: map[string]any{"code": code},
	}
}

func respond(data object, errs gqlerror.List) *graphql.Response {
	raw, err := json.Marshal(data)
	if err != nil {
		return respondNull(&gqlerror.Error{Message: "marshal response: " + err.Error()})
	}
	return &graphql.Response{Data: raw, Errors: errs}
}

func respondNull(errs ...*gqlerror.Error) *graphql.Response {
	return &graphql.Response{Data: nullData, Errors: errs}
}

// jobObject projects rec onto the selection set of a Job field.
func jobObject(opCtx *graphql.OperationContext, sel ast.SelectionSet, rec *models.IngestionRecord) object {
	out := object{}
	for _, f := range graphql.CollectFields(opCtx, sel, []string{"Job"}) {
		var v any
		switch f.Name {
		case "__typename":
			v = "Job"
		case "id":
			v = rec.ID
		case "sourceUrl":
			v = rec.SourceURL
		case "status":
			v = string(rec.Status)
		case "content":
			v = rec.Content
		case "pageMeta":
			if rec.PageMeta != nil {
				v = pageMetaObject(opCtx, f.Selections, rec.PageMeta)
			}
		case "extractedData":
			if rec.ExtractedData != nil {
				v = jobDataObject(opCtx, f.Selections, rec.ExtractedData)
			}
		case "errorMessage":
			v = rec.ErrorMessage
		case "createdAt":
			v = rec.CreatedAt
		case "updatedAt":
			v = rec.UpdatedAt
		}
		out = out.set(f.Alias, v)
	}
	return out
}

func pageMetaObject(opCtx *graphql.OperationContext, sel ast.SelectionSet, m *models.PageMeta) object {
	out := object{}
	for _, f := range graphql.CollectFields(opCtx, sel, []string{"PageMeta"}) {
		var v any
		switch f.Name {
		case "__typename":
			v = "PageMeta"
		case "title":
			v = optional(m.Title)
		case "ogTitle":
			v = optional(m.OGTitle)
		case "ogImage":
			v = optional(m.OGImage)
		case "siteName":
			v = optional(m.SiteName)
		case "canonicalUrl":
			v = optional(m.CanonicalURL)
		}
		out = out.set(f.Alias, v)
	}
	return out
}

func jobDataObject(opCtx *graphql.OperationContext, sel ast.SelectionSet, d *models.JobData) object {
	out := object{}
	for _, f := range graphql.CollectFields(opCtx, sel, []string{"JobData"}) {
		var v any
		switch f.Name {
		case "__typename":
			v = "JobData"
		case "companyName":
			v = optional(d.CompanyName)
		case "position":
			v = optional(d.Position)
		case "description":
			v = optional(d.Description)
		case "companyLogoUrl":
			v = optional(d.CompanyLogoURL)
		case "employmentType":
			v = optional(d.EmploymentType)
		case "remotePolicy":
			v = optional(d.RemotePolicy)
		case "technologies":
			if d.Technologies != nil {
				v = d.Technologies
			}
		}
		out = out.set(f.Alias, v)
	}
	return out
}

// optional maps the empty string to null.
func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}
