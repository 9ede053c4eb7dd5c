package normalize

import "github.com/phobologic/covernest/internal/model"

// Anchor is where a class's code starts: the single file its methods
// reference and the lowest recorded line in it.
type Anchor struct {
	FileUID int
	Line    int
}

const (
	reasonNoFile     = "no method references a file"
	reasonManyFiles  = "methods reference more than one file"
	reasonNoLineInfo = "no sequence point has a line"
)

// AnchorOf computes the anchor of c. It returns false when c has no file,
// spans several files, or has no line information.
func AnchorOf(c *model.Class) (Anchor, bool) {
	a, reason := anchorOf(c)
	return a, reason == ""
}

func anchorOf(c *model.Class) (Anchor, string) {
	var (
		uid     int
		hasFile bool
		line    int
		hasLine bool
	)
	for _, m := range c.Methods {
		if m.FileRef == nil {
			continue
		}
		switch {
		case !hasFile:
			uid, hasFile = m.FileRef.UID, true
		case m.FileRef.UID != uid:
			return Anchor{}, reasonManyFiles
		}
		for _, sp := range m.SequencePoints {
			if sp.StartLine == nil {
				continue
			}
			if !hasLine || *sp.StartLine < line {
				line, hasLine = *sp.StartLine, true
			}
		}
	}

	if !hasFile {
		return Anchor{}, reasonNoFile
	}
	if !hasLine {
		return Anchor{}, reasonNoLineInfo
	}
	return Anchor{FileUID: uid, Line: line}, ""
}

// Candidate is an ordinary class considered as owner, identified by its
// position in the candidate slice.
type Candidate struct {
	Line int
}

// Closest selects the owner of code starting at line: the candidate with the
// largest Line not after it. When several share that line the last one in
// slice order wins. It returns false when every candidate starts later.
func Closest(line int, candidates []Candidate) (int, bool) {
	best := -1
	for i, c := range candidates {
		if c.Line > line {
			continue
		}
		if best >= 0 && c.Line < candidates[best].Line {
			continue
		}
		best = i
	}
	return best, best >= 0
}
