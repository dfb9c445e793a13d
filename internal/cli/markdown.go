package cli

import (
	"bytes"
	"io"

	"github.com/yuin/goldmark"
)

// renderMarkdown converts a markdown document (built by the caller as a
// plain string — headers, tables, lists) to HTML and writes it to w.
// Used by the handful of commands that offer --format html as a
// terminal-table alternative now that there is no HTTP dashboard to
// view status/report output in.
func renderMarkdown(w io.Writer, md string) error {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}
