// Package toon implements TOON (Token-Oriented Object Notation) encoding of
// a covernest run summary.
package toon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/phobologic/covernest/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Encode converts a Summary into TOON format.
func Encode(s *model.Summary) string {
	var parts []string

	var reportRows [][]string
	for i := range s.Reports {
		r := &s.Reports[i]
		reportRows = append(reportRows, []string{
			r.Path,
			strconv.Itoa(r.Modules),
			strconv.Itoa(r.Classes),
			strconv.Itoa(r.Startup),
			strconv.Itoa(r.Renamed),
		})
	}
	parts = append(parts, formatTabular("reports", []string{"path", "modules", "classes", "startup", "renamed"}, reportRows))

	var renameRows [][]string
	for i := range s.Renames {
		rn := &s.Renames[i]
		file := rn.File
		if file == "" {
			file = strconv.Itoa(rn.FileUID)
		}
		renameRows = append(renameRows, []string{
			rn.Report,
			rn.Module,
			rn.From,
			rn.To,
			file,
			strconv.Itoa(rn.Line),
		})
	}
	parts = append(parts, formatTabular("renames", []string{"report", "module", "from", "to", "file", "line"}, renameRows))

	return strings.Join(parts, "\n")
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) || strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) || strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	return `"` + escaper.Replace(value) + `"`
}

var escaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)
