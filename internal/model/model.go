// Package model defines the coverage report tree that covernest reads and rewrites.
package model

// Report is a parsed coverage report.
type Report struct {
	Modules []*Module
}

// Module groups the classes of one assembly. Classes keep document order.
type Module struct {
	Name    string
	Files   map[int]string // file uid -> path
	Classes []*Class
}

// Class is a type entry. FullName is the only field the normalizer writes.
type Class struct {
	FullName string
	Methods  []*Method
}

// Method belongs to exactly one Class. FileRef is nil when the report
// records no source file for it.
type Method struct {
	Name           string
	FileRef        *FileRef
	SequencePoints []SequencePoint
}

// FileRef points at a File entry of the enclosing module.
type FileRef struct {
	UID int
}

// SequencePoint is an instrumented statement. StartLine is nil when the
// report has no line for it.
type SequencePoint struct {
	StartLine *int
}

// Rename records one startup class moved under its owning class.
type Rename struct {
	Module  string
	From    string
	To      string
	FileUID int
	File    string // path of FileUID, when the module lists it
	Line    int
}

// ReportSummary holds per-report counters for the run summary.
type ReportSummary struct {
	Path    string
	Modules int
	Classes int
	Startup int
	Renamed int
}

// ReportRename is a Rename tagged with the report it was applied to.
type ReportRename struct {
	Report string
	Rename
}

// Summary is the result of one covernest run, ready for serialization.
type Summary struct {
	Reports []ReportSummary
	Renames []ReportRename
}

// Line returns a pointer to n, for building sequence points.
func Line(n int) *int {
	return &n
}
