package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/openfroyo/topd/pkg/engine"
)

// Built-in schema names.
const (
	SchemaTop    = "top"
	SchemaConfig = "config"
)

// SchemaRegistry manages CUE schemas for validation. Each schema is a CUE
// source plus the definition that data is unified with.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.Mutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	// Built-in schemas are constants; a failure here is a programming error.
	if err := sr.RegisterSchema(SchemaTop, "#Top", builtinTopSchema); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema(SchemaConfig, "#Config", builtinConfigSchema); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles schema and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definition)
	}
	if err := def.Err(); err != nil {
		return fmt.Errorf("schema %s: %w", name, err)
	}

	sr.schemas[name] = def
	return nil
}

// HasSchema reports whether a schema is registered.
func (sr *SchemaRegistry) HasSchema(name string) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	_, ok := sr.schemas[name]
	return ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// cue.Context is not safe for concurrent use.
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[schemaName]
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s schema validation failed: %w", schemaName, err)
	}

	return nil
}

// ValidateTop checks a merged top against the #Top schema.
func (sr *SchemaRegistry) ValidateTop(ctx context.Context, top engine.Top) error {
	return sr.ValidateAgainstSchema(ctx, SchemaTop, top.Plain())
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Built-in schema definitions

const builtinTopSchema = `
#MatchType: "pcre" | "list" | "grain" | "grain_pcre" | "pillar" | "pillar_pcre" |
	"pillar_exact" | "ipcidr" | "compound" | "nodegroup" | "data" | "range"

// A target is an SLS name; the optional match annotation comes first.
#Target: string & !=""

#Targets: [{match: #MatchType}, ...#Target] | [...#Target]

// environment -> match pattern -> targets
#Top: {
	[string & !=""]: {
		[string & !=""]: #Targets
	}
}
`

const builtinConfigSchema = `
#Config: {
	state_root:  string & !=""
	pillar_root: string & !=""

	default_env?:      string & =~"^[^/\\\\|]+$"
	dropin_dir?:       string & =~"^[^/\\\\]+$" & !="." & !=".."
	top_file?:         string & !=""
	fragment_pattern?: string & !=""
	schema_check?:     bool
	history_db?:       string

	policy?: {
		paths?:    [...string]
		builtins?: bool
	}

	telemetry?: {...}
}
`
