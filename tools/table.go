/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package tools

import (
	"fmt"
	"io"
	"strings"

	"github.com/Comcast/strata/slots"

	md "github.com/russross/blackfriday/v2"
)

// TableMarkdown writes a Markdown report of the slot table: one row
// per group in pre-order.
func TableMarkdown(t *slots.Table, out io.Writer) error {
	f := func(format string, args ...interface{}) {
		fmt.Fprintf(out, format+"\n", args...)
	}

	return t.Read(func(r *slots.Reader) error {
		n, err := r.Len()
		if err != nil {
			return err
		}
		f("%d groups.\n", n)
		if n == 0 {
			return nil
		}
		f("| index | depth | kind | key | size | nodes | slots |")
		f("|---:|---:|---|---|---:|---:|---:|")
		return r.Walk(func(index, depth int, g slots.Group, ss []interface{}) error {
			key := strings.Repeat("&nbsp;&nbsp;", depth) + "`" + cell(g.Key) + "`"
			f("| %d | %d | %s | %s | %d | %d | %d |", index, depth, g.Kind, key, g.Size, g.Nodes, len(ss))
			return nil
		})
	})
}

func cell(x interface{}) string {
	s := fmt.Sprintf("%v", x)
	s = strings.Replace(s, "|", `\|`, -1)
	s = strings.Replace(s, "`", "'", -1)
	if 60 < len(s) {
		s = "..." + s[len(s)-57:]
	}
	return s
}

// RenderTableHTML renders TableMarkdown's report as HTML.
func RenderTableHTML(t *slots.Table, out io.Writer) error {
	var b strings.Builder
	if err := TableMarkdown(t, &b); err != nil {
		return err
	}
	html := md.Run([]byte(b.String()), md.WithExtensions(md.CommonExtensions))
	_, err := fmt.Fprintf(out, `<div class="slotTable">%s</div>`+"\n", html)
	return err
}

// RenderTablePage writes a complete HTML page with the table report.
func RenderTablePage(t *slots.Table, title string, out io.Writer, cssFiles []string) error {
	fmt.Fprintf(out, `<!DOCTYPE html>
<meta charset="utf-8">
<html>
  <head>
  <title>%s</title>
`, title)

	for _, cssFile := range cssFiles {
		fmt.Fprintf(out, "  <link href=\"%s\" rel=\"stylesheet\">\n", cssFile)
	}

	fmt.Fprintf(out, `
  </head>
  <body>
    <h1>%s</h1>
`, title)

	if err := RenderTableHTML(t, out); err != nil {
		return err
	}

	fmt.Fprintf(out, `
  </body>
</html>
`)
	return nil
}
