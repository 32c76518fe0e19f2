package importer

import (
	"strings"

	"github.com/cleared-dev/trustrecon/internal/model"
)

// Parser converts raw statement bytes into a ParsedStatement.
type Parser interface {
	Parse(raw []byte) (*model.ParsedStatement, error)
	Format() string
}

// Registry holds named parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register adds a parser. Panics on duplicate format.
func (r *Registry) Register(p Parser) {
	key := strings.ToLower(p.Format())
	if _, ok := r.parsers[key]; ok {
		panic("duplicate parser format: " + key)
	}
	r.parsers[key] = p
}

// Get returns the parser for format, or nil.
func (r *Registry) Get(format string) Parser {
	return r.parsers[strings.ToLower(strings.TrimSpace(format))]
}

// Formats returns the registered format names.
func (r *Registry) Formats() []string {
	names := make([]string, 0, len(r.parsers))
	for k := range r.parsers {
		names = append(names, k)
	}
	return names
}

// Parse looks up the parser for format and runs it.
func (r *Registry) Parse(raw []byte, format string) (*model.ParsedStatement, error) {
	p := r.Get(format)
	if p == nil {
		return nil, &model.ParseError{Format: format, Reason: "unsupported format"}
	}
	return p.Parse(raw)
}

// DefaultRegistry returns a registry with all built-in parsers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&CSVParser{})
	r.Register(&OFXParser{format: "ofx"})
	r.Register(&OFXParser{format: "qfx"})
	return r
}

// Parse parses raw bytes with the built-in parser for format.
func Parse(raw []byte, format string) (*model.ParsedStatement, error) {
	return DefaultRegistry().Parse(raw, format)
}

// periodOf fills the statement period from its transaction dates.
func periodOf(stmt *model.ParsedStatement) {
	for i, t := range stmt.Transactions {
		if i == 0 || t.Date.Before(stmt.PeriodStart) {
			stmt.PeriodStart = t.Date
		}
		if i == 0 || t.Date.After(stmt.PeriodEnd) {
			stmt.PeriodEnd = t.Date
		}
	}
}
