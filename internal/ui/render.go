package ui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"

	"reportapp/internal/core"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var fragments = template.Must(template.New("fragments").Funcs(template.FuncMap{
	"cell": displayCell,
}).Parse(`
{{define "table"}}<table class="result"><thead><tr>{{range .Columns}}<th>{{.}}</th>{{end}}</tr></thead><tbody>{{range .Rows}}<tr>{{range .}}<td>{{cell .}}</td>{{end}}</tr>{{end}}</tbody></table>{{end}}
{{define "pre"}}<pre>{{.}}</pre>{{end}}
{{define "text"}}<p class="result-text">{{.}}</p>{{end}}
{{define "params"}}{{range .}}{{$f := .}}<div class="param-item"><label for="{{.ID}}">{{.Name}}</label>{{if .IsChoice}}<select id="{{.ID}}" name="{{.ID}}"><option value="">(choose)</option>{{range .Options}}<option value="{{.}}"{{if eq . $f.Value}} selected{{end}}>{{.}}</option>{{end}}</select>{{else}}<input id="{{.ID}}" name="{{.ID}}" placeholder="{{.Name}}" value="{{.Value}}">{{end}}</div>{{end}}{{end}}
`))

func execFragment(name string, data any) template.HTML {
	var buf bytes.Buffer
	if err := fragments.ExecuteTemplate(&buf, name, data); err != nil {
		return template.HTML(template.HTMLEscapeString(err.Error()))
	}
	return template.HTML(buf.String())
}

// displayCell renders a result cell the way it reads on screen: null is
// empty, everything else is its plain string form.
func displayCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case []any, map[string]any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// RenderResult shows a run result as a table, or as pretty JSON when it
// carries an error without rows or has nothing tabular.
func RenderResult(res *core.RunResult) template.HTML {
	if res == nil {
		return RenderText("No data")
	}
	if res.Error != nil && len(res.Rows) == 0 {
		return RenderJSON(res)
	}
	if len(res.Columns) > 0 && len(res.Rows) > 0 {
		return execFragment("table", res)
	}
	return RenderJSON(res)
}

// RenderJSON pretty-prints v inside a <pre> block.
func RenderJSON(v any) template.HTML {
	var b []byte
	if raw, ok := v.(json.RawMessage); ok {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return execFragment("pre", string(raw))
		}
		b = buf.Bytes()
	} else {
		var err error
		if b, err = json.MarshalIndent(v, "", "  "); err != nil {
			return RenderText(err.Error())
		}
	}
	return execFragment("pre", string(b))
}

func RenderText(s string) template.HTML {
	return execFragment("text", s)
}

// RenderParams renders one labelled control per parameter.
func RenderParams(fields []ParamField) template.HTML {
	return execFragment("params", fields)
}

// Rendered is what an export reads back from the last result fragment.
// Rows is nil when no table was rendered; Text then holds the fallback.
type Rendered struct {
	Rows [][]string
	Text string
}

// TableFromHTML parses a rendered fragment back into rows (header first).
func TableFromHTML(fragment template.HTML) (Rendered, error) {
	nodes, err := html.ParseFragment(strings.NewReader(string(fragment)), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return Rendered{}, fmt.Errorf("parse result: %w", err)
	}

	var table, pre *html.Node
	for _, n := range nodes {
		if t := findElement(n, atom.Table); t != nil && table == nil {
			table = t
		}
		if p := findElement(n, atom.Pre); p != nil && pre == nil {
			pre = p
		}
	}

	if table != nil {
		var rows [][]string
		walk(table, func(n *html.Node) bool {
			if n.Type != html.ElementNode || n.DataAtom != atom.Tr {
				return true
			}
			var row []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.DataAtom == atom.Th || c.DataAtom == atom.Td) {
					row = append(row, textContent(c))
				}
			}
			rows = append(rows, row)
			return false
		})
		return Rendered{Rows: rows}, nil
	}
	if pre != nil {
		return Rendered{Text: textContent(pre)}, nil
	}
	var sb strings.Builder
	for _, n := range nodes {
		sb.WriteString(textContent(n))
	}
	return Rendered{Text: sb.String()}, nil
}

// walk visits n depth-first; fn returning false skips the node's children.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if c.Type == html.ElementNode && c.DataAtom == a {
			found = c
			return false
		}
		return true
	})
	return found
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return true
	})
	return sb.String()
}

// ExportCSV quotes every field and doubles embedded quotes.
func ExportCSV(r Rendered) string {
	if r.Rows == nil {
		return r.Text
	}
	lines := make([]string, len(r.Rows))
	for i, row := range r.Rows {
		cells := make([]string, len(row))
		for j, c := range row {
			cells[j] = `"` + strings.ReplaceAll(c, `"`, `""`) + `"`
		}
		lines[i] = strings.Join(cells, ",")
	}
	return strings.Join(lines, "\r\n")
}

// ExportText joins cells with tabs.
func ExportText(r Rendered) string {
	if r.Rows == nil {
		return r.Text
	}
	lines := make([]string, len(r.Rows))
	for i, row := range r.Rows {
		lines[i] = strings.Join(row, "\t")
	}
	return strings.Join(lines, "\r\n")
}

type exportFormat struct {
	ext         string
	contentType string
	encode      func(Rendered) string
}

// The excel export is the CSV body under a spreadsheet name and type.
var exportFormats = map[string]exportFormat{
	"csv":   {ext: "csv", contentType: "text/csv;charset=utf-8", encode: ExportCSV},
	"excel": {ext: "xlsx", contentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", encode: ExportCSV},
	"txt":   {ext: "txt", contentType: "text/plain;charset=utf-8", encode: ExportText},
}

var timestampReplacer = strings.NewReplacer(":", "-", ".", "-")

// ExportFilename builds <base>_<timestamp>.<ext> with a sanitized base.
func ExportFilename(base, ext string, now time.Time) string {
	ts := timestampReplacer.Replace(now.UTC().Format("2006-01-02T15:04:05.000Z"))
	return core.SanitizeFileBase(base) + "_" + ts + "." + ext
}
