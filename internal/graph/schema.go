// Package graph serves the ingestion service over GraphQL: the creation
// call as a mutation, record lookups as a query and record updates as a
// subscription.
package graph

import (
	"context"
	_ "embed"
	"log/slog"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/raphaelgruber/jobingest/internal/service"
)

//go:embed schema.graphqls
var schemaSDL string

var parsedSchema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphqls", Input: schemaSDL})

// Config holds the dependencies of the executable schema.
type Config struct {
	Service *service.Service
	Logger  *slog.Logger
}

// NewExecutableSchema creates the schema handed to gqlgen's handler.
func NewExecutableSchema(cfg Config) graphql.ExecutableSchema {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &executableSchema{svc: cfg.Service, logger: logger}
}

type executableSchema struct {
	svc    *service.Service
	logger *slog.Logger
}

func (e *executableSchema) Schema() *ast.Schema {
	return parsedSchema
}

// Complexity reports no custom costs; every field counts as one.
func (e *executableSchema) Complexity(ctx context.Context, typeName, fieldName string, childComplexity int, args map[string]any) (int, bool) {
	return 0, false
}
