package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/leapreport/internal/aggregate"
	"github.com/leapstack-labs/leapreport/internal/cli/config"
	"github.com/leapstack-labs/leapreport/internal/tree"
	"github.com/leapstack-labs/leapreport/pkg/core"
	"gopkg.in/yaml.v3"
)

// reportNode is one suite or browser in a printed report.
type reportNode struct {
	ID       string          `json:"id" yaml:"id"`
	Kind     string          `json:"kind" yaml:"kind"`
	Name     string          `json:"name" yaml:"name"`
	Status   core.TestStatus `json:"status" yaml:"status"`
	Retried  bool            `json:"retried,omitempty" yaml:"retried,omitempty"`
	Attempts int             `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Error    string          `json:"error,omitempty" yaml:"error,omitempty"`
	Children []reportNode    `json:"children,omitempty" yaml:"children,omitempty"`
}

// reportDoc is the printable form of a report.
type reportDoc struct {
	RunID  string          `json:"runId,omitempty" yaml:"run_id,omitempty"`
	Seq    uint64          `json:"seq" yaml:"seq"`
	Ended  bool            `json:"ended" yaml:"ended"`
	Status core.TestStatus `json:"status" yaml:"status"`
	Suites []reportNode    `json:"suites" yaml:"suites"`
	Errors []reportError   `json:"errors,omitempty" yaml:"errors,omitempty"`
}

type reportError struct {
	ID      string `json:"id" yaml:"id"`
	Message string `json:"message" yaml:"message"`
}

// buildReport walks the visible part of the tree.
func buildReport(t *tree.Tree, e *aggregate.Engine) reportDoc {
	doc := reportDoc{
		RunID:  t.RunID(),
		Seq:    t.Seq(),
		Ended:  t.Ended(),
		Status: core.StatusIdle,
	}
	for _, id := range t.RootSuiteIDs() {
		doc.Status = core.Worse(doc.Status, e.Status(id))
		if e.ShouldBeShown(id) {
			doc.Suites = append(doc.Suites, buildNode(t, e, id))
		}
	}
	for _, re := range t.Errors() {
		doc.Errors = append(doc.Errors, reportError{ID: re.ID, Message: re.Message})
	}
	return doc
}

func buildNode(t *tree.Tree, e *aggregate.Engine, id string) reportNode {
	n := reportNode{
		ID:      id,
		Kind:    t.Kind(id).String(),
		Status:  e.Status(id),
		Retried: e.Retried(id),
	}
	switch t.Kind(id) {
	case tree.KindSuite:
		s, _ := t.Suite(id)
		n.Name = s.Name
		for _, child := range t.Children(id) {
			if e.ShouldBeShown(child) {
				n.Children = append(n.Children, buildNode(t, e, child))
			}
		}
	case tree.KindBrowser:
		b, _ := t.Browser(id)
		n.Name = b.Name
		n.Attempts = len(b.ResultIDs)
		if r, ok := t.LastResult(id); ok && r.Error != nil {
			n.Error = firstLine(r.Error.Message)
		}
	}
	return n
}

func renderReport(w io.Writer, doc reportDoc, format string) error {
	switch format {
	case config.OutputJSON, config.OutputYAML:
		return encodeDocument(w, doc, format)
	default:
		return renderReportTable(w, doc)
	}
}

// encodeDocument writes v as indented JSON or YAML.
func encodeDocument(w io.Writer, v any, format string) error {
	if format == config.OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func renderReportTable(w io.Writer, doc reportDoc) error {
	if len(doc.Suites) == 0 {
		_, _ = fmt.Fprintln(w, "(no tests)")
		return renderSummary(w, doc)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Test", "Status", "Attempts", "Error"})

	var walk func(n reportNode, depth int)
	walk = func(n reportNode, depth int) {
		name := strings.Repeat("  ", depth) + n.Name
		status := string(n.Status)
		if n.Retried {
			status += " (retried)"
		}
		attempts := ""
		if n.Attempts > 0 {
			attempts = fmt.Sprintf("%d", n.Attempts)
		}
		t.AppendRow(table.Row{name, status, attempts, n.Error})
		for _, child := range n.Children {
			walk(child, depth+1)
		}
	}
	for _, n := range doc.Suites {
		walk(n, 0)
	}

	t.Render()
	return renderSummary(w, doc)
}

func renderSummary(w io.Writer, doc reportDoc) error {
	state := "running"
	if doc.Ended {
		state = "ended"
	}
	_, _ = fmt.Fprintf(w, "status: %s, %s at seq %d\n", doc.Status, state, doc.Seq)
	for _, re := range doc.Errors {
		_, _ = fmt.Fprintf(w, "error: %s\n", firstLine(re.Message))
	}
	return nil
}

// reportView applies the --filter flag to an engine.
func reportView(e *aggregate.Engine, filter string) error {
	mode, err := aggregate.ParseViewMode(filter)
	if err != nil {
		return err
	}
	e.SetView(aggregate.View{Mode: mode})
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
