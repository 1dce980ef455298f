// Package jsengine runs run_script steps in an embedded JavaScript runtime.
package jsengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

// Lookup resolves a single locator and describes the element it found.
// A nil map with a nil error, or an ErrElementNotFound error, means no match.
type Lookup func(ctx context.Context, kind, value string) (map[string]interface{}, error)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger routes console output to l.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithLookup backs app.find and app.exists.
func WithLookup(fn Lookup) Option {
	return func(e *Engine) { e.lookup = fn }
}

// WithEnv exposes variables to scripts as the env object.
func WithEnv(env map[string]string) Option {
	return func(e *Engine) {
		for k, v := range env {
			e.env[k] = v
		}
	}
}

// Engine wraps a goja runtime. One engine lives for one test, so values
// scripts put on output are visible to later scripts of the same test.
type Engine struct {
	runtime *goja.Runtime
	output  map[string]interface{}
	env     map[string]interface{}
	lookup  Lookup
	logger  *zap.Logger

	// ctx of the script currently running, read by app helpers
	ctx context.Context
	mu  sync.Mutex
}

// New creates an engine with console, json, env, output and app globals.
func New(opts ...Option) *Engine {
	e := &Engine{
		runtime: goja.New(),
		output:  make(map[string]interface{}),
		env:     make(map[string]interface{}),
		logger:  zap.NewNop(),
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.setupBuiltins()
	return e
}

func (e *Engine) setupBuiltins() {
	e.setupConsole()
	_ = e.runtime.Set("json", e.jsonFunc())
	_ = e.runtime.Set("output", e.output)
	_ = e.runtime.Set("env", e.env)
	_ = e.runtime.Set("app", e.appObject())
}

// setupConsole adds console.log, console.info, console.warn and console.error.
func (e *Engine) setupConsole() {
	makeConsoleFunc := func(log func(string, ...zap.Field)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			log(strings.Join(parts, " "), zap.String("source", "script"))
			return goja.Undefined()
		}
	}

	console := e.runtime.NewObject()
	_ = console.Set("log", makeConsoleFunc(e.logger.Info))
	_ = console.Set("info", makeConsoleFunc(e.logger.Info))
	_ = console.Set("warn", makeConsoleFunc(e.logger.Warn))
	_ = console.Set("error", makeConsoleFunc(e.logger.Error))
	_ = e.runtime.Set("console", console)
}

// jsonFunc returns the json() helper that parses a JSON string.
func (e *Engine) jsonFunc() func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(e.runtime.NewTypeError("json requires 1 argument"))
		}

		str := call.Arguments[0].String()
		result, err := e.runtime.RunString(fmt.Sprintf("JSON.parse(%q)", str))
		if err != nil {
			panic(e.runtime.NewTypeError(fmt.Sprintf("invalid JSON: %v", err)))
		}
		return result
	}
}

// appObject returns the app global: read-only element helpers.
func (e *Engine) appObject() *goja.Object {
	obj := e.runtime.NewObject()

	// app.find(type, value) -> {text, value, role, enabled, visible} or null
	_ = obj.Set("find", func(call goja.FunctionCall) goja.Value {
		info := e.find(call)
		if info == nil {
			return goja.Null()
		}
		return e.runtime.ToValue(info)
	})

	// app.exists(type, value) -> bool
	_ = obj.Set("exists", func(call goja.FunctionCall) goja.Value {
		return e.runtime.ToValue(e.find(call) != nil)
	})

	return obj
}

func (e *Engine) find(call goja.FunctionCall) map[string]interface{} {
	if len(call.Arguments) < 2 {
		panic(e.runtime.NewTypeError("app.find requires type and value"))
	}
	if e.lookup == nil {
		panic(e.runtime.NewTypeError("app is not available in this context"))
	}

	info, err := e.lookup(e.ctx, call.Arguments[0].String(), call.Arguments[1].String())
	if errors.Is(err, core.ErrElementNotFound) {
		return nil
	}
	if err != nil {
		panic(e.runtime.NewGoError(err))
	}
	return info
}

// SetVariable sets a global visible to later scripts.
func (e *Engine) SetVariable(name string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.runtime.Set(name, value)
}

// Output returns a copy of the values scripts stored on output.
func (e *Engine) Output() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	source := e.output
	if v := e.runtime.Get("output"); v != nil && !goja.IsUndefined(v) {
		if m, ok := v.Export().(map[string]interface{}); ok {
			source = m
		}
	}

	result := make(map[string]interface{}, len(source))
	for k, v := range source {
		result[k] = v
	}
	return result
}

// Run executes script. Cancelling ctx interrupts it.
func (e *Engine) Run(ctx context.Context, script string) error {
	_, err := e.Eval(ctx, script)
	return err
}

// Eval executes script and returns its completion value.
func (e *Engine) Eval(ctx context.Context, script string) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, core.Cancelled(err)
	}

	e.ctx = ctx
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		e.runtime.Interrupt(ctx.Err())
		close(interrupted)
	})
	defer func() {
		if !stop() {
			<-interrupted
		}
		e.runtime.ClearInterrupt()
		e.ctx = context.Background()
	}()

	result, err := e.runtime.RunString(script)
	if err != nil {
		var interrupt *goja.InterruptedError
		if errors.As(err, &interrupt) && ctx.Err() != nil {
			return nil, core.Cancelled(ctx.Err())
		}
		return nil, fmt.Errorf("script error: %w", err)
	}
	if result == nil {
		return nil, nil
	}
	return result.Export(), nil
}

// Expand replaces each ${expr} in text with the value of expr. Expressions
// that fail to evaluate are left as written.
func (e *Engine) Expand(ctx context.Context, text string) (string, error) {
	result := text
	start := 0

	for {
		idx := strings.Index(result[start:], "${")
		if idx == -1 {
			break
		}
		idx += start

		// Find the matching }
		depth := 1
		end := idx + 2
		for end < len(result) && depth > 0 {
			switch result[end] {
			case '{':
				depth++
			case '}':
				depth--
			}
			end++
		}
		if depth != 0 {
			start = idx + 2
			continue
		}

		value, err := e.Eval(ctx, result[idx+2:end-1])
		if err != nil {
			if core.IsCancelled(err) {
				return "", err
			}
			start = end
			continue
		}
		str := ""
		if value != nil {
			str = fmt.Sprintf("%v", value)
		}
		result = result[:idx] + str + result[end:]
		start = idx + len(str)
	}

	return result, nil
}

// Close releases the runtime. Safe to call multiple times.
func (e *Engine) Close() {
	e.runtime.Interrupt("engine closed")
}
