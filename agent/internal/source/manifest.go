package source

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/obsidianstack/pagescore/agent/internal/compute"
	"github.com/obsidianstack/pagescore/agent/internal/config"
	"github.com/obsidianstack/pagescore/agent/internal/trace"
)

// Resolver loads an artifact referenced from a manifest by relative path or URL.
type Resolver func(ref string) ([]byte, error)

// Manifest locates bundle artifacts inside a JSON document.
type Manifest struct {
	trace       jp.Expr
	devtoolsLog jp.Expr
	records     jp.Expr
	chains      jp.Expr
	url         jp.Expr
	traceOfTab  jp.Expr
}

// NewManifest compiles the configured JSONPath expressions.
func NewManifest(cfg config.ManifestConfig) (*Manifest, error) {
	m := &Manifest{}
	for _, f := range []struct {
		name string
		expr string
		dst  *jp.Expr
	}{
		{"trace_path", orDefault(cfg.TracePath, config.DefaultTracePath), &m.trace},
		{"devtools_log_path", orDefault(cfg.DevtoolsLogPath, config.DefaultDevtoolsLogPath), &m.devtoolsLog},
		{"records_path", orDefault(cfg.RecordsPath, config.DefaultRecordsPath), &m.records},
		{"chains_path", orDefault(cfg.ChainsPath, config.DefaultChainsPath), &m.chains},
		{"url_path", orDefault(cfg.URLPath, config.DefaultURLPath), &m.url},
		{"trace_of_tab_path", orDefault(cfg.TraceOfTabPath, config.DefaultTraceOfTabPath), &m.traceOfTab},
	} {
		x, err := jp.ParseString(f.expr)
		if err != nil {
			return nil, fmt.Errorf("manifest %s %q: %w", f.name, f.expr, err)
		}
		*f.dst = x
	}
	return m, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// DirResolver resolves manifest references as paths relative to dir.
func DirResolver(dir string) Resolver {
	return func(ref string) ([]byte, error) {
		return os.ReadFile(filepath.Join(dir, filepath.FromSlash(ref)))
	}
}

// Bundle builds a bundle from data. Data that is not a manifest (not a JSON
// object, a trace object with traceEvents, or no trace at the trace path) is
// treated as a bare trace.
func (m *Manifest) Bundle(data []byte, resolve Resolver) (*compute.Bundle, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return &compute.Bundle{Trace: data}, nil
	}
	doc, err := oj.Parse(data)
	if err != nil {
		// Let the trace decoder report malformed JSON.
		return &compute.Bundle{Trace: data}, nil
	}
	obj, _ := doc.(map[string]any)
	if _, isTrace := obj["traceEvents"]; isTrace || len(m.trace.Get(doc)) == 0 {
		return &compute.Bundle{Trace: data}, nil
	}

	b := &compute.Bundle{}
	for _, f := range []struct {
		name string
		expr jp.Expr
		dst  *[]byte
	}{
		{"trace", m.trace, &b.Trace},
		{"devtools log", m.devtoolsLog, &b.DevtoolsLog},
		{"records", m.records, &b.Records},
		{"chains", m.chains, &b.Chains},
		{"trace of tab", m.traceOfTab, &b.TraceOfTab},
	} {
		v, err := artifact(f.expr, doc, resolve)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", f.name, err)
		}
		*f.dst = v
	}
	if vals := m.url.Get(doc); len(vals) > 0 {
		if s, ok := vals[0].(string); ok {
			b.URL = s
		}
	}
	if len(b.Trace) == 0 {
		return nil, fmt.Errorf("manifest: empty trace")
	}
	return b, nil
}

// artifact returns the first value at x: a string is a reference to load and
// inflate, anything else is re-encoded as JSON.
func artifact(x jp.Expr, doc any, resolve Resolver) ([]byte, error) {
	vals := x.Get(doc)
	if len(vals) == 0 || vals[0] == nil {
		return nil, nil
	}
	switch v := vals[0].(type) {
	case string:
		if resolve == nil {
			return nil, fmt.Errorf("reference %q cannot be resolved", v)
		}
		data, err := resolve(v)
		if err != nil {
			return nil, err
		}
		return trace.Decompress(data)
	case map[string]any, []any:
		return oj.Marshal(v)
	default:
		return nil, fmt.Errorf("unexpected %T value", v)
	}
}
