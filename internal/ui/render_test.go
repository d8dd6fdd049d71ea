package ui

import (
	"strings"
	"testing"
	"time"

	"reportapp/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func parseFragment(t *testing.T, frag string) []*html.Node {
	t.Helper()
	nodes, err := html.ParseFragment(strings.NewReader(frag), &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div})
	require.NoError(t, err)
	return nodes
}

func elements(nodes []*html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	for _, n := range nodes {
		walk(n, func(c *html.Node) bool {
			if c.Type == html.ElementNode && c.DataAtom == a {
				out = append(out, c)
			}
			return true
		})
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func TestRenderResultTableAndCSV(t *testing.T) {
	res := &core.RunResult{
		OK:      true,
		Columns: []string{"a", "b"},
		Rows:    [][]any{{1, 2}, {3, 4}},
	}
	out := RenderResult(res)

	nodes := parseFragment(t, string(out))
	require.Len(t, elements(nodes, atom.Table), 1)
	assert.Len(t, elements(nodes, atom.Th), 2)
	assert.Len(t, elements(elements(nodes, atom.Tbody), atom.Tr), 2)
	assert.Len(t, elements(nodes, atom.Td), 4)

	rendered, err := TableFromHTML(out)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}, {"3", "4"}}, rendered.Rows)
	assert.Equal(t, "\"a\",\"b\"\r\n\"1\",\"2\"\r\n\"3\",\"4\"", ExportCSV(rendered))
	assert.Equal(t, "a\tb\r\n1\t2\r\n3\t4", ExportText(rendered))
}

func TestRenderResultCells(t *testing.T) {
	res := &core.RunResult{
		Columns: []string{"name", "qty", "note"},
		Rows:    [][]any{{`say "hi"`, 1.5, nil}, {"<b>", float64(10), true}},
	}
	rendered, err := TableFromHTML(RenderResult(res))
	require.NoError(t, err)
	assert.Equal(t, []string{`say "hi"`, "1.5", ""}, rendered.Rows[1])
	assert.Equal(t, []string{"<b>", "10", "true"}, rendered.Rows[2])
	assert.Equal(t, `"say ""hi""","1.5",""`, strings.Split(ExportCSV(rendered), "\r\n")[1])
}

func TestRenderResultFallsBackToJSON(t *testing.T) {
	msg := "Invalid object name 'dbo.Sales'"
	tests := []struct {
		name string
		res  *core.RunResult
	}{
		{"error without rows", &core.RunResult{Columns: []string{"a"}, Error: &msg, Status: core.StatusError}},
		{"no rows", &core.RunResult{OK: true, Columns: []string{"a"}, Rows: [][]any{}}},
		{"no columns", &core.RunResult{OK: true, Rows: [][]any{{1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := RenderResult(tt.res)
			assert.True(t, strings.HasPrefix(string(out), "<pre>"))

			rendered, err := TableFromHTML(out)
			require.NoError(t, err)
			assert.Nil(t, rendered.Rows)
			assert.Contains(t, rendered.Text, `"columns"`)
			assert.Equal(t, rendered.Text, ExportCSV(rendered))
			assert.Equal(t, rendered.Text, ExportText(rendered))
		})
	}
}

func TestTableFromHTMLPlainText(t *testing.T) {
	rendered, err := TableFromHTML(RenderText("Error: connection refused"))
	require.NoError(t, err)
	assert.Nil(t, rendered.Rows)
	assert.Equal(t, "Error: connection refused", rendered.Text)
}

func TestRenderParams(t *testing.T) {
	out := RenderParams([]ParamField{{Name: "city"}, {Name: "year"}})
	nodes := parseFragment(t, string(out))

	inputs := elements(nodes, atom.Input)
	require.Len(t, inputs, 2)
	assert.Equal(t, "param_city", attr(inputs[0], "id"))
	assert.Equal(t, "city", attr(inputs[0], "placeholder"))
	assert.Equal(t, "param_year", attr(inputs[1], "id"))

	labels := elements(nodes, atom.Label)
	require.Len(t, labels, 2)
	assert.Equal(t, "city", textContent(labels[0]))
	assert.Equal(t, "param_year", attr(labels[1], "for"))
}

func TestRenderParamsChoice(t *testing.T) {
	out := RenderParams([]ParamField{{Name: "city", Options: []string{"NY", "LA"}, Value: "LA"}})
	nodes := parseFragment(t, string(out))

	assert.Empty(t, elements(nodes, atom.Input))
	selects := elements(nodes, atom.Select)
	require.Len(t, selects, 1)
	assert.Equal(t, "param_city", attr(selects[0], "id"))

	opts := elements(nodes, atom.Option)
	require.Len(t, opts, 3)
	assert.Equal(t, "", attr(opts[0], "value"))
	assert.Equal(t, "(choose)", textContent(opts[0]))
	assert.Equal(t, "NY", attr(opts[1], "value"))
	assert.Equal(t, "LA", attr(opts[2], "value"))

	var selected []string
	for _, o := range opts {
		for _, a := range o.Attr {
			if a.Key == "selected" {
				selected = append(selected, attr(o, "value"))
			}
		}
	}
	assert.Equal(t, []string{"LA"}, selected)
}

func TestExportFilename(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 678e6, time.UTC)
	tests := []struct {
		base, ext, want string
	}{
		{"Sales", "csv", "Sales_2024-01-02T03-04-05-678Z.csv"},
		{"Sales: Q1/Q2 report", "xlsx", "Sales_Q1_Q2_report_2024-01-02T03-04-05-678Z.xlsx"},
		{"", "txt", "report_2024-01-02T03-04-05-678Z.txt"},
		{strings.Repeat("x", 200), "csv", strings.Repeat("x", 120) + "_2024-01-02T03-04-05-678Z.csv"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExportFilename(tt.base, tt.ext, now))
	}
}
