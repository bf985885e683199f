package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/term"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Renderer handles styled terminal output.
type Renderer struct {
	width  int
	styled bool

	Summary lipgloss.Style
	Muted   lipgloss.Style
	Data    lipgloss.Style
	Error   lipgloss.Style
	Hint    lipgloss.Style
	Success lipgloss.Style
	Header  lipgloss.Style
}

// NewRenderer creates a renderer. Styling is enabled when writing to a TTY,
// or when forceStyled is true. NO_COLOR disables colors regardless.
func NewRenderer(w io.Writer, forceStyled bool) *Renderer {
	width, isTTY := terminalInfo(w)
	styled := (isTTY || forceStyled) && os.Getenv("NO_COLOR") == ""

	r := &Renderer{width: width, styled: styled}

	if !styled {
		plain := lipgloss.NewStyle()
		r.Summary, r.Muted, r.Data, r.Error = plain, plain, plain, plain
		r.Hint, r.Success, r.Header = plain, plain, plain
		return r
	}

	r.Summary = lipgloss.NewStyle().Foreground(lipgloss.Color("#5fafff")).Bold(true)
	r.Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
	r.Data = lipgloss.NewStyle().Foreground(lipgloss.Color("#e4e4e4"))
	r.Error = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f")).Bold(true)
	r.Hint = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")).Italic(true)
	r.Success = lipgloss.NewStyle().Foreground(lipgloss.Color("#87d787"))
	r.Header = lipgloss.NewStyle().Foreground(lipgloss.Color("#e4e4e4")).Bold(true)
	return r
}

// terminalInfo returns the terminal width and whether the writer is a TTY.
func terminalInfo(w io.Writer) (width int, isTTY bool) {
	width = 80

	if f, ok := w.(*os.File); ok {
		if w, _, err := term.GetSize(f.Fd()); err == nil && w >= 40 {
			width = w
		}
		isTTY = term.IsTerminal(f.Fd())
	}

	return width, isTTY
}

// RenderResponse renders a success response to the writer.
func (r *Renderer) RenderResponse(w io.Writer, resp *Response) error {
	var b strings.Builder

	if resp.Summary != "" {
		b.WriteString(r.Summary.Render(resp.Summary))
		b.WriteString("\n\n")
	}

	r.renderData(&b, NormalizeData(resp.Data))

	if len(resp.Breadcrumbs) > 0 {
		b.WriteString("\n")
		r.renderBreadcrumbs(&b, resp.Breadcrumbs)
	}

	if stats, ok := resp.Meta["stats"]; ok && stats != nil {
		b.WriteString("\n")
		b.WriteString(r.Muted.Render(fmt.Sprintf("Stats: %v", stats)))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderError renders an error response to the writer.
func (r *Renderer) RenderError(w io.Writer, resp *ErrorResponse) error {
	var b strings.Builder

	b.WriteString(r.Error.Render("Error: " + resp.Error))
	b.WriteString("\n")

	if resp.Hint != "" {
		b.WriteString(r.Hint.Render("Hint: " + resp.Hint))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (r *Renderer) renderData(b *strings.Builder, data any) {
	switch d := data.(type) {
	case []map[string]any:
		if len(d) == 0 {
			b.WriteString(r.Muted.Render("(no results)"))
			b.WriteString("\n")
			return
		}
		r.renderTable(b, d)
	case map[string]any:
		r.renderObject(b, d)
	case string:
		b.WriteString(r.Data.Render(d))
		b.WriteString("\n")
	case nil:
		b.WriteString(r.Muted.Render("(no data)"))
		b.WriteString("\n")
	default:
		b.WriteString(r.Data.Render(fmt.Sprintf("%v", data)))
		b.WriteString("\n")
	}
}

func (r *Renderer) renderTable(b *strings.Builder, data []map[string]any) {
	keys := sortedKeys(data)
	headers := make([]string, len(keys))
	for i, k := range keys {
		headers[i] = formatHeader(k)
	}

	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Width(r.width).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.Header
			}
			return r.Data
		})

	for _, item := range data {
		row := make([]string, len(keys))
		for i, k := range keys {
			row[i] = formatValue(k, item[k])
		}
		t.Row(row...)
	}

	b.WriteString(t.Render())
	b.WriteString("\n")
}

func (r *Renderer) renderObject(b *strings.Builder, data map[string]any) {
	keys := make([]string, 0, len(data))
	maxLen := 0
	for k := range data {
		keys = append(keys, k)
		if l := ansi.StringWidth(formatHeader(k)); l > maxLen {
			maxLen = l
		}
	}
	sort.Strings(keys)

	// Values are cut to the terminal width.
	room := r.width - maxLen - 2
	for _, k := range keys {
		label := fmt.Sprintf("%-*s", maxLen, formatHeader(k))
		value := formatValue(k, data[k])
		if room > 8 {
			value = ansi.Truncate(value, room, "…")
		}
		b.WriteString(r.Muted.Render(label))
		b.WriteString("  ")
		b.WriteString(r.Data.Render(value))
		b.WriteString("\n")
	}
}

func (r *Renderer) renderBreadcrumbs(b *strings.Builder, crumbs []Breadcrumb) {
	b.WriteString(r.Muted.Render("Next:"))
	b.WriteString("\n")
	for _, bc := range crumbs {
		cmd := r.Muted.Render("  " + bc.Cmd)
		if bc.Description != "" {
			cmd += r.Muted.Render("  # " + bc.Description)
		}
		b.WriteString(cmd + "\n")
	}
}

var titleCaser = cases.Title(language.English)

func formatHeader(key string) string {
	return titleCaser.String(strings.ReplaceAll(key, "_", " "))
}

func sortedKeys(data []map[string]any) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, item := range data {
		for k := range item {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func formatCell(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "yes"
		}
		return "no"
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%.2f", v)
	case map[string]any:
		parts := make([]string, 0, len(v))
		for _, k := range sortedKeys([]map[string]any{v}) {
			parts = append(parts, fmt.Sprintf("%s=%s", k, formatCell(v[k])))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// formatValue formats timestamp-looking fields (*_at) as relative times.
func formatValue(key string, val any) string {
	str, ok := val.(string)
	if !ok || !strings.HasSuffix(key, "_at") || str == "" {
		return formatCell(val)
	}

	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return str
	}

	diff := time.Since(t)
	switch {
	case diff < 0:
		return t.Local().Format("Jan 2, 2006 15:04")
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(diff.Hours()))
	default:
		return t.Local().Format("Jan 2, 2006")
	}
}

// MarkdownRenderer outputs literal Markdown syntax (portable, pipeable).
type MarkdownRenderer struct {
	w io.Writer
}

// NewMarkdownRenderer creates a Markdown renderer.
func NewMarkdownRenderer(w io.Writer) *MarkdownRenderer {
	return &MarkdownRenderer{w: w}
}

// RenderResponse renders a success response as Markdown.
func (r *MarkdownRenderer) RenderResponse(w io.Writer, resp *Response) error {
	var b strings.Builder

	if resp.Summary != "" {
		b.WriteString("## " + resp.Summary + "\n\n")
	}

	switch d := NormalizeData(resp.Data).(type) {
	case []map[string]any:
		keys := sortedKeys(d)
		headers := make([]string, len(keys))
		seps := make([]string, len(keys))
		for i, k := range keys {
			headers[i] = formatHeader(k)
			seps[i] = "---"
		}
		b.WriteString("| " + strings.Join(headers, " | ") + " |\n")
		b.WriteString("| " + strings.Join(seps, " | ") + " |\n")
		for _, item := range d {
			cells := make([]string, len(keys))
			for i, k := range keys {
				cells[i] = strings.ReplaceAll(formatCell(item[k]), "|", "\\|")
			}
			b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		}
	case map[string]any:
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(fmt.Sprintf("- **%s:** %s\n", formatHeader(k), formatCell(d[k])))
		}
	case nil:
	default:
		b.WriteString(formatCell(d) + "\n")
	}

	if len(resp.Breadcrumbs) > 0 {
		b.WriteString("\n### Next\n\n")
		for _, bc := range resp.Breadcrumbs {
			b.WriteString(fmt.Sprintf("- `%s` %s\n", bc.Cmd, bc.Description))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderError renders an error response as Markdown.
func (r *MarkdownRenderer) RenderError(w io.Writer, resp *ErrorResponse) error {
	var b strings.Builder
	b.WriteString("**Error:** " + resp.Error + "\n")
	if resp.Hint != "" {
		b.WriteString("\n_Hint: " + resp.Hint + "_\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
