package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/l1jgo/reclaimer/internal/reclaim"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM for cleanup policy scripts.
// Single-goroutine access only (game loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
	// unknown hint names already reported, per kind
	warned map[string]bool
}

// NewEngine creates a Lua engine and loads all scripts from the given directory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	e := newEngine(log)

	// Load core scripts first, then the per-kind hooks
	for _, sub := range []string{"core", "reclaim"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			e.vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}
	return e, nil
}

func newEngine(log *zap.Logger) *Engine {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(2))

	// HINT.QUEUE = "queue", ... so scripts don't hardcode strings
	hints := vm.NewTable()
	for h := reclaim.HintNone; h.Valid(); h++ {
		name := h.String()
		hints.RawSetString(strings.ToUpper(name), lua.LString(name))
	}
	vm.SetGlobal("HINT", hints)

	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{vm: vm, log: log, warned: make(map[string]bool)}
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// DoString runs a chunk of Lua in the engine's VM.
func (e *Engine) DoString(src string) error {
	return e.vm.DoString(src)
}

// Close releases the VM.
func (e *Engine) Close() {
	e.vm.Close()
}

// DestroyHint asks the script hook on_destroy(kind, force) how an entity of
// kind should be disposed of. ok is false when no script has an opinion
// (hook missing, nil result, or a Lua error); the caller then uses its own
// default. An unrecognised name maps to reclaim.HintNone so the engine
// queues and counts it.
func (e *Engine) DestroyHint(kind string, force bool) (reclaim.Hint, bool) {
	fn := e.vm.GetGlobal("on_destroy")
	if fn == lua.LNil {
		return reclaim.HintNone, false
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LString(kind), lua.LBool(force)); err != nil {
		e.log.Error("lua on_destroy error", zap.String("kind", kind), zap.Error(err))
		return reclaim.HintNone, false
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	if result == lua.LNil {
		return reclaim.HintNone, false
	}
	name := lua.LVAsString(result)
	hint, known := reclaim.ParseHint(name)
	if !known && !e.warned[kind] {
		e.warned[kind] = true
		e.log.Warn("lua on_destroy returned unknown hint",
			zap.String("kind", kind), zap.String("hint", name))
	}
	return hint, true
}
