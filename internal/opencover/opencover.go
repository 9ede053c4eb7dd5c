// Package opencover reads and writes OpenCover XML coverage reports.
//
// A report is kept as its raw token stream alongside the model tree built
// from it. Writing a Document replays the stream with the current class
// names substituted, so everything the model does not cover survives a
// load/write cycle. Only the serialization may differ: self-closing tags are
// expanded and text is re-escaped.
package opencover

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/phobologic/covernest/internal/model"
)

var (
	// ErrNotOpenCover is returned for well-formed XML whose root is not CoverageSession.
	ErrNotOpenCover = errors.New("not an OpenCover report")
	// ErrMalformed is returned when the XML or one of the attributes covernest reads is invalid.
	ErrMalformed = errors.New("malformed OpenCover report")
	// ErrMissingFullName is returned, together with ErrMalformed, for a
	// Class element without a FullName child.
	ErrMissingFullName = errors.New("class has no FullName")
)

const rootElement = "CoverageSession"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Document is a loaded report.
type Document struct {
	Report *model.Report

	tokens []xml.Token
	names  []*className
	bom    bool
}

// className ties a class to the character data tokens of its FullName element.
type className struct {
	class  *model.Class
	tokens []int
	seen   bool // FullName element present
}

// ReadFile loads the report at path.
func ReadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Load parses an OpenCover report. An empty FullName element yields an empty
// name; a missing one fails the load.
func Load(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}

	doc := &Document{Report: &model.Report{}}
	if bytes.HasPrefix(data, utf8BOM) {
		doc.bom = true
		data = data[len(utf8BOM):]
	}

	l := &loader{doc: doc}
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		tok = flatten(xml.CopyToken(tok))
		doc.tokens = append(doc.tokens, tok)
		if err := l.handle(len(doc.tokens)-1, tok); err != nil {
			return nil, err
		}
	}

	if !l.sawRoot {
		return nil, ErrNotOpenCover
	}
	if len(l.stack) > 0 {
		return nil, fmt.Errorf("%w: unclosed element <%s>", ErrMalformed, l.stack[len(l.stack)-1].name)
	}
	return doc, nil
}

// Encode writes the report with the current class names.
func (d *Document) Encode(w io.Writer) error {
	tokens := make([]xml.Token, len(d.tokens))
	copy(tokens, d.tokens)
	for _, n := range d.names {
		if len(n.tokens) == 0 {
			continue
		}
		tokens[n.tokens[0]] = xml.CharData(n.class.FullName)
		for _, i := range n.tokens[1:] {
			tokens[i] = xml.CharData(nil)
		}
	}

	if d.bom {
		if _, err := w.Write(utf8BOM); err != nil {
			return err
		}
	}

	enc := xml.NewEncoder(w)
	for _, tok := range tokens {
		if err := enc.EncodeToken(tok); err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
	}
	return enc.Flush()
}

// WriteFile encodes the report to path.
func (d *Document) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// flatten folds namespace prefixes into local names so the encoder writes
// them back exactly as read.
func flatten(tok xml.Token) xml.Token {
	switch t := tok.(type) {
	case xml.StartElement:
		t.Name = flatName(t.Name)
		for i := range t.Attr {
			t.Attr[i].Name = flatName(t.Attr[i].Name)
		}
		return t
	case xml.EndElement:
		t.Name = flatName(t.Name)
		return t
	}
	return tok
}

func flatName(n xml.Name) xml.Name {
	if n.Space == "" {
		return n
	}
	return xml.Name{Local: n.Space + ":" + n.Local}
}

type frameKind int

const (
	frameOther frameKind = iota
	frameModule
	frameModuleName
	frameClass
	frameClassName
	frameMethod
	frameMethodName
)

type frame struct {
	name string
	kind frameKind
}

// loader builds the model tree while the token stream is read.
type loader struct {
	doc     *Document
	stack   []frame
	sawRoot bool

	module *model.Module
	class  *className
	method *model.Method
}

func (l *loader) parent() string {
	if len(l.stack) == 0 {
		return ""
	}
	return l.stack[len(l.stack)-1].name
}

func (l *loader) handle(idx int, tok xml.Token) error {
	switch t := tok.(type) {
	case xml.StartElement:
		kind, err := l.start(t)
		if err != nil {
			return err
		}
		l.stack = append(l.stack, frame{name: t.Name.Local, kind: kind})

	case xml.EndElement:
		if len(l.stack) == 0 || l.parent() != t.Name.Local {
			return fmt.Errorf("%w: unexpected </%s>", ErrMalformed, t.Name.Local)
		}
		top := l.stack[len(l.stack)-1]
		l.stack = l.stack[:len(l.stack)-1]
		switch top.kind {
		case frameModule:
			l.module = nil
		case frameClass:
			if !l.class.seen {
				return fmt.Errorf("%w: module %q, class %d: %w",
					ErrMalformed, l.module.Name, len(l.module.Classes)-1, ErrMissingFullName)
			}
			l.class = nil
		case frameMethod:
			l.method = nil
		}

	case xml.CharData:
		if len(l.stack) == 0 {
			return nil
		}
		switch l.stack[len(l.stack)-1].kind {
		case frameModuleName:
			l.module.Name += string(t)
		case frameClassName:
			l.class.class.FullName += string(t)
			l.class.tokens = append(l.class.tokens, idx)
		case frameMethodName:
			l.method.Name += string(t)
		}
	}
	return nil
}

func (l *loader) start(t xml.StartElement) (frameKind, error) {
	name, parent := t.Name.Local, l.parent()

	if len(l.stack) == 0 {
		if name != rootElement {
			return frameOther, ErrNotOpenCover
		}
		l.sawRoot = true
		return frameOther, nil
	}

	switch {
	case name == "Module" && parent == "Modules":
		l.module = &model.Module{Files: make(map[int]string)}
		l.doc.Report.Modules = append(l.doc.Report.Modules, l.module)
		return frameModule, nil

	case l.module == nil:
		return frameOther, nil

	case name == "ModuleName" && parent == "Module":
		return frameModuleName, nil

	case name == "File" && parent == "Files":
		uid, ok, err := intAttr(t, "uid")
		if err != nil {
			return frameOther, err
		}
		if ok {
			l.module.Files[uid] = attr(t, "fullPath")
		}
		return frameOther, nil

	case name == "Class" && parent == "Classes":
		c := &model.Class{}
		l.module.Classes = append(l.module.Classes, c)
		l.class = &className{class: c}
		l.doc.names = append(l.doc.names, l.class)
		return frameClass, nil

	case l.class == nil:
		return frameOther, nil

	case name == "FullName" && parent == "Class":
		l.class.seen = true
		return frameClassName, nil

	case name == "Method" && parent == "Methods":
		l.method = &model.Method{}
		l.class.class.Methods = append(l.class.class.Methods, l.method)
		return frameMethod, nil

	case l.method == nil:
		return frameOther, nil

	case name == "Name" && parent == "Method":
		return frameMethodName, nil

	case name == "FileRef" && parent == "Method":
		uid, ok, err := intAttr(t, "uid")
		if err != nil {
			return frameOther, err
		}
		if ok {
			l.method.FileRef = &model.FileRef{UID: uid}
		}
		return frameOther, nil

	case name == "SequencePoint" && parent == "SequencePoints":
		sl, ok, err := intAttr(t, "sl")
		if err != nil {
			return frameOther, err
		}
		var sp model.SequencePoint
		if ok {
			sp.StartLine = model.Line(sl)
		}
		l.method.SequencePoints = append(l.method.SequencePoints, sp)
		return frameOther, nil
	}
	return frameOther, nil
}

func attr(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func intAttr(t xml.StartElement, name string) (int, bool, error) {
	for _, a := range t.Attr {
		if a.Name.Local != name {
			continue
		}
		v, err := strconv.Atoi(a.Value)
		if err != nil || v < 0 {
			return 0, false, fmt.Errorf("%w: <%s %s=%q>", ErrMalformed, t.Name.Local, name, a.Value)
		}
		return v, true, nil
	}
	return 0, false, nil
}
