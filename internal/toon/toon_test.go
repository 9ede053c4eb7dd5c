package toon

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/covernest/internal/model"
)

func TestEncodeValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", `""`},
		{"simple", "hello", "hello"},
		{"leading space", " hello", `" hello"`},
		{"trailing space", "hello ", `"hello "`},
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"true keyword", "true", `"true"`},
		{"True keyword", "True", `"True"`},
		{"null keyword", "null", `"null"`},
		{"integer", "42", "42"},
		{"negative integer", "-1", "-1"},
		{"comma", "a,b", `"a,b"`},
		{"colon", "a:b", `"a:b"`},
		{"quote", `a"b`, `"a\"b"`},
		{"backslash", `a\b`, `"a\\b"`},
		{"windows path", `C:\src\A.fs`, `"C:\\src\\A.fs"`},
		{"dash prefix", "-foo", `"-foo"`},
		{"startup class", "<StartupCode$M>/$Init", "<StartupCode$M>/$Init"},
		{"nested class", "Bar/<StartupCode$M>/$Init", "Bar/<StartupCode$M>/$Init"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, encodeValue(tt.in), "encodeValue(%q)", tt.in)
		})
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	s := &model.Summary{
		Reports: []model.ReportSummary{
			{Path: "coverage.xml", Modules: 2, Classes: 9, Startup: 2, Renamed: 1},
		},
		Renames: []model.ReportRename{
			{
				Report: "coverage.xml",
				Rename: model.Rename{
					Module:  "M",
					From:    "<StartupCode$M>/$Init",
					To:      "Bar/<StartupCode$M>/$Init",
					FileUID: 7,
					File:    "src/Bar.fs",
					Line:    15,
				},
			},
			{
				Report: "coverage.xml",
				Rename: model.Rename{Module: "M", From: "<StartupCode$M>/$X", To: "Foo/<StartupCode$M>/$X", FileUID: 3, Line: 2},
			},
		},
	}

	lines := strings.Split(Encode(s), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "reports[1]{path,modules,classes,startup,renamed}:", lines[0])
	assert.Equal(t, "  coverage.xml,2,9,2,1", lines[1])
	assert.Equal(t, "renames[2]{report,module,from,to,file,line}:", lines[2])
	assert.Equal(t, "  coverage.xml,M,<StartupCode$M>/$Init,Bar/<StartupCode$M>/$Init,src/Bar.fs,15", lines[3])
	// File uid is shown when the module has no path for it
	assert.Equal(t, "  coverage.xml,M,<StartupCode$M>/$X,Foo/<StartupCode$M>/$X,3,2", lines[4])
}

func TestEncodeEmpty(t *testing.T) {
	t.Parallel()

	got := Encode(&model.Summary{})
	assert.Equal(t, "reports[0]{path,modules,classes,startup,renamed}:\nrenames[0]{report,module,from,to,file,line}:", got)
}
