package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"atomicgo.dev/cursor"
	"github.com/pterm/pterm"

	"nlcube/cli/internal/columnar"
	"nlcube/cli/internal/service"
	"nlcube/cli/internal/terminal"
)

var spinnerFrames = []string{"|", "/", "-", "\\"}

// startInlineSpinner animates frames followed by text on one line of w and
// hides the cursor while running. The returned func stops it and clears the
// line. Nothing is drawn when stdout is not a terminal.
func startInlineSpinner(w io.Writer, text string, interval time.Duration) func() {
	if !terminal.IsInteractive() {
		return func() {}
	}
	cursor.Hide()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		line := text
		for i := 0; ; i++ {
			select {
			case <-stop:
				fmt.Fprintf(w, "\r%*s\r", len(line)+2, "")
				return
			case <-ticker.C:
				line = fmt.Sprintf("%s %s", spinnerFrames[i%len(spinnerFrames)], text)
				if limit := terminal.Width() - 1; len(line) > limit && limit > 0 {
					line = line[:limit]
				}
				fmt.Fprintf(w, "\r%s", line)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			cursor.Show()
		})
	}
}

// tableData converts a decoded result into pterm rows with a header.
func tableData(tbl *columnar.Table) pterm.TableData {
	header := make([]string, len(tbl.Columns))
	for i, c := range tbl.Columns {
		header[i] = c.Name
	}
	data := pterm.TableData{header}
	for _, row := range tbl.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		data = append(data, cells)
	}
	return data
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return pterm.FgGray.Sprint("NULL")
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(x))
	case time.Time:
		return x.Format(time.RFC3339)
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.6f", x), "0"), ".")
	}
	return fmt.Sprint(v)
}

// printAnswer renders a result as a table, or as JSON when asJSON is set.
func printAnswer(a *service.Answer, asJSON bool) error {
	tbl, err := columnar.Decode(a.Payload)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			SQL        string  `json:"sql"`
			Columns    any     `json:"columns"`
			Rows       [][]any `json:"rows"`
			RowCount   int     `json:"row_count"`
			ElapsedMs  int64   `json:"elapsed_ms"`
			Unreliable bool    `json:"unreliable,omitempty"`
		}{a.SQL, a.Columns, tbl.Rows, a.RowCount, a.ElapsedMs, a.Unreliable})
	}

	if len(tbl.Columns) > 0 {
		if err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(tableData(tbl)).Render(); err != nil {
			return err
		}
	}
	pterm.Println(pterm.FgGray.Sprint(fmt.Sprintf("%d row(s) in %d ms", a.RowCount, a.ElapsedMs)))
	if a.Unreliable {
		pterm.Warning.Println("The subject has no tables yet; the generated SQL was written without a schema.")
	}
	return nil
}

// printSQL shows a statement with a label.
func printSQL(sql string) {
	pterm.Println(pterm.NewStyle(pterm.FgLightCyan).Sprint("→ SQL: ") + pterm.NewStyle(pterm.FgCyan).Sprint(sql))
	pterm.Println()
}
