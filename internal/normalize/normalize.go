// Package normalize nests compiler-generated startup code classes under the
// class whose source produced them.
//
// F# and similar compilers emit module initialisation code as synthetic
// classes named "<StartupCode$Assembly>/...". Left alone they show up as
// top-level entries in a coverage report. For every such class the
// normalizer picks the ordinary class of the same module that starts in the
// same file at, or closest before, the startup code's first line and
// prefixes its name: "<StartupCode$M>/$Init" becomes "Bar/<StartupCode$M>/$Init".
package normalize

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/phobologic/covernest/internal/model"
)

const (
	// StartupPrefix marks compiler-generated startup classes. Matched case-insensitively.
	StartupPrefix = "<StartupCode$"
	// Separator joins nested class names.
	Separator = "/"
)

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger sets the logger that receives skip reasons at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithWorkers bounds how many modules ReportParallel handles at once.
func WithWorkers(workers int) Option {
	return func(n *Normalizer) {
		n.workers = workers
	}
}

// Normalizer renames startup classes. It holds no per-report state and is
// safe for concurrent use on distinct reports.
type Normalizer struct {
	logger  *slog.Logger
	workers int
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		logger:  slog.New(slog.DiscardHandler),
		workers: 1,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// IsStartup reports whether name is a startup class that already encodes a
// nesting and can be moved under an owner.
func IsStartup(name string) bool {
	return hasStartupPrefix(name) && strings.Contains(name, Separator)
}

// IsOrdinary reports whether name can own startup classes.
func IsOrdinary(name string) bool {
	return !hasStartupPrefix(name)
}

func hasStartupPrefix(name string) bool {
	return len(name) >= len(StartupPrefix) && strings.EqualFold(name[:len(StartupPrefix)], StartupPrefix)
}

// Report normalizes every module of r in document order and returns the
// renames it applied.
func (n *Normalizer) Report(r *model.Report) []model.Rename {
	var renames []model.Rename
	for _, m := range r.Modules {
		renames = append(renames, n.Module(m)...)
	}
	return renames
}

// ReportParallel is Report with modules spread over the configured number of
// workers. Modules share nothing, so the result equals Report's. When ctx is
// cancelled the renames of the modules that did finish are returned along
// with the error; those modules stay renamed.
func (n *Normalizer) ReportParallel(ctx context.Context, r *model.Report) ([]model.Rename, error) {
	if n.workers <= 1 || len(r.Modules) <= 1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return n.Report(r), nil
	}

	perModule := make([][]model.Rename, len(r.Modules))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(n.workers)
	for i, m := range r.Modules {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			perModule[i] = n.Module(m)
			return nil
		})
	}
	err := g.Wait()

	var renames []model.Rename
	for _, applied := range perModule {
		renames = append(renames, applied...)
	}
	return renames, err
}

type ordinaryClass struct {
	class  *model.Class
	anchor Anchor
}

// Module renames the startup classes of m. Matching never leaves the module.
// An empty FullName is an ordinary name.
func (n *Normalizer) Module(m *model.Module) []model.Rename {
	var startup []*model.Class
	var owners []ordinaryClass
	for _, c := range m.Classes {
		switch {
		case IsStartup(c.FullName):
			startup = append(startup, c)
		case IsOrdinary(c.FullName):
			a, reason := anchorOf(c)
			if reason != "" {
				n.logger.Debug("class cannot own startup code", "module", m.Name, "class", c.FullName, "reason", reason)
				continue
			}
			owners = append(owners, ordinaryClass{class: c, anchor: a})
		}
	}

	var renames []model.Rename
	for _, s := range startup {
		a, reason := anchorOf(s)
		if reason != "" {
			n.logger.Debug("startup class skipped", "module", m.Name, "class", s.FullName, "reason", reason)
			continue
		}

		var candidates []Candidate
		var classes []*model.Class
		for _, o := range owners {
			if o.anchor.FileUID != a.FileUID {
				continue
			}
			candidates = append(candidates, Candidate{Line: o.anchor.Line})
			classes = append(classes, o.class)
		}

		best, ok := Closest(a.Line, candidates)
		if !ok {
			n.logger.Debug("no owner for startup class", "module", m.Name, "class", s.FullName, "file", a.FileUID, "line", a.Line)
			continue
		}

		from := s.FullName
		s.FullName = classes[best].FullName + Separator + from
		renames = append(renames, model.Rename{
			Module:  m.Name,
			From:    from,
			To:      s.FullName,
			FileUID: a.FileUID,
			File:    m.Files[a.FileUID],
			Line:    a.Line,
		})
	}
	return renames
}
