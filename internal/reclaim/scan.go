package reclaim

import (
	"fmt"
	"reflect"
	"time"

	"github.com/l1jgo/reclaimer/internal/core/ecs"
	"go.uber.org/zap"
)

// Root is one named starting point of a reference scan.
type Root struct {
	Name  string
	Value any
}

// RootGroup is a set of roots walked together, e.g. "Globals", "World",
// "Sessions".
type RootGroup struct {
	Name  string
	Roots []Root
}

// RootSource exposes the host's reachability roots. Groups are walked in
// the order returned.
type RootSource interface {
	ScanRoots() []RootGroup
}

// Finding is one path through which the scan target is reachable.
type Finding struct {
	Path string
	// ByID is set when the path holds the target's EntityID rather than a
	// pointer to it.
	ByID bool
}

var (
	entityType   = reflect.TypeOf((*Entity)(nil)).Elem()
	entityIDType = reflect.TypeOf(ecs.EntityID(0))
)

type scanFrame struct {
	v     reflect.Value
	path  string
	depth int
}

type seenKey struct {
	ptr uintptr
	typ reflect.Type
}

type scanRun struct {
	target Entity
	id     ecs.EntityID
	kind   string
	ptr    uintptr
	wanted bool

	groups []RootGroup
	group  int
	root   int
	stack  []scanFrame
	seen   map[seenKey]struct{}

	findings []Finding
	nodes    int
	started  time.Time
}

// Scanner walks the host's object graph looking for every path that keeps
// one entity reachable. A scan is advanced by Step a budget's worth at a
// time; the explicit stack is the resumption cursor.
type Scanner struct {
	roots  RootSource
	depth  int
	skip   map[string]struct{}
	log    *zap.Logger
	report func(string)

	cur  *scanRun
	last []Finding
}

func NewScanner(roots RootSource, depth int, skipFields []string, log *zap.Logger, report func(string)) *Scanner {
	if depth <= 0 {
		depth = 64
	}
	skip := make(map[string]struct{}, len(skipFields))
	for _, f := range skipFields {
		skip[f] = struct{}{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{roots: roots, depth: depth, skip: skip, log: log, report: report}
}

func (s *Scanner) Active() bool { return s.cur != nil }

// Findings returns the findings of the running scan, or of the last
// finished one.
func (s *Scanner) Findings() []Finding {
	if s.cur != nil {
		return s.cur.findings
	}
	return s.last
}

// Start begins a scan for target. It replaces nothing: callers cancel a
// running scan first.
func (s *Scanner) Start(target Entity) {
	if s.cur != nil {
		return
	}
	r := &scanRun{
		target:  target,
		id:      target.ID(),
		kind:    target.Kind(),
		wanted:  true,
		groups:  s.roots.ScanRoots(),
		seen:    make(map[seenKey]struct{}, 1024),
		started: time.Now(),
	}
	if v := reflect.ValueOf(target); v.Kind() == reflect.Pointer {
		r.ptr = v.Pointer()
	}
	s.cur = r
	s.log.Info("beginning search for references",
		zapKind(r.kind), zapID(r.id))
	s.emit(fmt.Sprintf("Beginning search for references to %s %s.", r.kind, r.id))
}

// Cancel stops the running scan. Findings already reported stay reported.
func (s *Scanner) Cancel() {
	r := s.cur
	if r == nil {
		return
	}
	r.wanted = false
	s.cur = nil
	s.last = r.findings
	s.log.Info("cancelled search for references",
		zapKind(r.kind), zapID(r.id), zap.Int("nodes", r.nodes))
	s.emit(fmt.Sprintf("Cancelled search for references to %s %s.", r.kind, r.id))
}

// Step visits graph nodes until the scan finishes or exhausted reports
// true. It returns true when the scan is over.
func (s *Scanner) Step(exhausted func() bool) bool {
	r := s.cur
	for r != nil && r.wanted {
		if len(r.stack) == 0 {
			if !s.nextRoot(r) {
				s.finish(r)
				return true
			}
			continue
		}
		f := r.stack[len(r.stack)-1]
		r.stack[len(r.stack)-1] = scanFrame{}
		r.stack = r.stack[:len(r.stack)-1]
		s.visit(r, f)
		r.nodes++
		if exhausted != nil && exhausted() {
			return false
		}
	}
	return s.cur == nil
}

// nextRoot pushes the next root onto the stack; false once all are done.
func (s *Scanner) nextRoot(r *scanRun) bool {
	for r.group < len(r.groups) {
		g := r.groups[r.group]
		if r.root >= len(g.Roots) {
			s.log.Debug("finished searching root group", zap.String("group", g.Name))
			r.group++
			r.root = 0
			continue
		}
		root := g.Roots[r.root]
		r.root++
		v := reflect.ValueOf(root.Value)
		if r.ptr != 0 && v.Kind() == reflect.Pointer && v.Pointer() == r.ptr {
			continue // the target's own entry
		}
		r.stack = append(r.stack, scanFrame{v: v, path: g.Name + " -> " + root.Name})
		return true
	}
	return false
}

func (s *Scanner) finish(r *scanRun) {
	s.cur = nil
	s.last = r.findings
	s.log.Info("completed search for references",
		zapKind(r.kind), zapID(r.id),
		zap.Int("findings", len(r.findings)),
		zap.Int("nodes", r.nodes),
		zap.Duration("elapsed", time.Since(r.started)))
	s.emit(fmt.Sprintf("Completed search for references to %s %s: %d found.", r.kind, r.id, len(r.findings)))
}

func (s *Scanner) found(r *scanRun, path string, byID bool) {
	r.findings = append(r.findings, Finding{Path: path, ByID: byID})
	how := "pointer"
	if byID {
		how = "id"
	}
	s.log.Info("found reference",
		zapKind(r.kind), zapID(r.id),
		zap.String("path", path), zap.String("via", how))
	s.emit(fmt.Sprintf("Found %s %s (%s) in %s.", r.kind, r.id, how, path))
}

func (s *Scanner) emit(line string) {
	if s.report != nil {
		s.report(line)
	}
}

func (s *Scanner) push(r *scanRun, v reflect.Value, path string, depth int) {
	r.stack = append(r.stack, scanFrame{v: v, path: path, depth: depth})
}

// markSeen returns false when the node was already visited in this scan.
func (r *scanRun) markSeen(ptr uintptr, typ reflect.Type) bool {
	k := seenKey{ptr: ptr, typ: typ}
	if _, ok := r.seen[k]; ok {
		return false
	}
	r.seen[k] = struct{}{}
	return true
}

func (s *Scanner) visit(r *scanRun, f scanFrame) {
	v := f.v
	if !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Interface:
		if !v.IsNil() {
			s.push(r, v.Elem(), f.path, f.depth)
		}

	case reflect.Pointer:
		if v.IsNil() {
			return
		}
		if r.ptr != 0 && v.Pointer() == r.ptr {
			s.found(r, f.path, false)
			return
		}
		// other entities are roots of their own; walking into them from a
		// field would only produce longer paths to the same holder
		if f.depth > 0 && v.Type().Implements(entityType) {
			return
		}
		if r.markSeen(v.Pointer(), v.Type()) {
			s.push(r, v.Elem(), f.path, f.depth)
		}

	case reflect.Struct:
		if !s.descend(f) {
			return
		}
		t := v.Type()
		for i := v.NumField() - 1; i >= 0; i-- {
			sf := t.Field(i)
			if s.skipField(sf) {
				continue
			}
			s.push(r, v.Field(i), f.path+"."+sf.Name, f.depth+1)
		}

	case reflect.Slice:
		if v.IsNil() || v.Len() == 0 {
			return
		}
		if !r.markSeen(v.Pointer(), v.Type()) {
			return
		}
		fallthrough
	case reflect.Array:
		if !s.descend(f) || !worthWalking(v.Type().Elem()) {
			return
		}
		for i := v.Len() - 1; i >= 0; i-- {
			s.push(r, v.Index(i), fmt.Sprintf("%s[%d]", f.path, i), f.depth+1)
		}

	case reflect.Map:
		if v.IsNil() || v.Len() == 0 {
			return
		}
		if !r.markSeen(v.Pointer(), v.Type()) || !s.descend(f) {
			return
		}
		walkKeys := worthWalking(v.Type().Key())
		walkVals := worthWalking(v.Type().Elem())
		it := v.MapRange()
		for it.Next() {
			key := fmt.Sprintf("%s[%v]", f.path, it.Key())
			if walkKeys {
				s.push(r, it.Key(), key+" (key)", f.depth+1)
			}
			if walkVals {
				s.push(r, it.Value(), key, f.depth+1)
			}
		}

	case reflect.Uint64:
		if v.Type() == entityIDType && v.Uint() == uint64(r.id) {
			s.found(r, f.path, true)
		}
	}
}

func (s *Scanner) descend(f scanFrame) bool {
	if f.depth < s.depth {
		return true
	}
	s.log.Debug("recursion limit reached", zap.String("path", f.path))
	return false
}

func (s *Scanner) skipField(sf reflect.StructField) bool {
	if sf.Tag.Get("reclaim") == "-" {
		return true
	}
	_, skip := s.skip[sf.Name]
	return skip
}

// worthWalking prunes element types that can never hold a reference.
func worthWalking(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128,
		reflect.String, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return false
	case reflect.Uint64:
		return t == entityIDType
	}
	return true
}
