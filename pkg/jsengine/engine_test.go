package jsengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

func TestEval(t *testing.T) {
	engine := New()
	defer engine.Close()

	tests := []struct {
		name     string
		script   string
		expected interface{}
	}{
		{"simple number", "1 + 2", int64(3)},
		{"string concat", "'hello' + ' ' + 'world'", "hello world"},
		{"boolean", "true && false", false},
		{"null coalescing", "null ?? 'default'", "default"},
		{"array length", "[1, 2, 3].length", int64(3)},
		{"template literal", "`${1 + 1} apples`", "2 apples"},
		{"arrow function", "((a, b) => a * b)(3, 4)", int64(12)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Eval(context.Background(), tt.script)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestConsoleLog(t *testing.T) {
	obs, logs := observer.New(zap.DebugLevel)
	engine := New(WithLogger(zap.New(obs)))
	defer engine.Close()

	require.NoError(t, engine.Run(context.Background(), `console.log("total", 42); console.error("bad")`))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "total 42", entries[0].Message)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, "bad", entries[1].Message)
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
}

func TestJSON(t *testing.T) {
	engine := New()
	defer engine.Close()

	result, err := engine.Eval(context.Background(), `json('{"total": "42.50"}').total`)
	require.NoError(t, err)
	assert.Equal(t, "42.50", result)

	_, err = engine.Eval(context.Background(), `json('{broken')`)
	assert.Error(t, err)
}

func TestOutput_PersistsAcrossRuns(t *testing.T) {
	engine := New()
	defer engine.Close()

	ctx := context.Background()
	require.NoError(t, engine.Run(ctx, `output.invoice = "INV-7"`))
	result, err := engine.Eval(ctx, `output.invoice + "-copy"`)
	require.NoError(t, err)
	assert.Equal(t, "INV-7-copy", result)

	assert.Equal(t, "INV-7", engine.Output()["invoice"])
}

func TestEnv(t *testing.T) {
	engine := New(WithEnv(map[string]string{"USERNAME": "qa"}))
	defer engine.Close()

	result, err := engine.Eval(context.Background(), `env.USERNAME`)
	require.NoError(t, err)
	assert.Equal(t, "qa", result)
}

func TestSetVariable(t *testing.T) {
	engine := New()
	defer engine.Close()

	engine.SetVariable("count", 42)
	result, err := engine.Eval(context.Background(), "count + 1")
	require.NoError(t, err)
	assert.Equal(t, int64(43), result)
}

func TestAppFind(t *testing.T) {
	var gotKind, gotValue string
	lookup := func(_ context.Context, kind, value string) (map[string]interface{}, error) {
		gotKind, gotValue = kind, value
		switch value {
		case "total":
			return map[string]interface{}{"text": "42", "enabled": true}, nil
		case "boom":
			return nil, core.ErrProcessGone
		default:
			return nil, core.ErrElementNotFound
		}
	}
	engine := New(WithLookup(lookup))
	defer engine.Close()
	ctx := context.Background()

	result, err := engine.Eval(ctx, `app.find("accessibility_id", "total").text`)
	require.NoError(t, err)
	assert.Equal(t, "42", result)
	assert.Equal(t, "accessibility_id", gotKind)
	assert.Equal(t, "total", gotValue)

	result, err = engine.Eval(ctx, `app.find("accessibility_id", "missing") === null`)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	result, err = engine.Eval(ctx, `app.exists("accessibility_id", "missing")`)
	require.NoError(t, err)
	assert.Equal(t, false, result)

	_, err = engine.Eval(ctx, `app.find("accessibility_id", "boom")`)
	assert.Error(t, err)

	_, err = engine.Eval(ctx, `app.find("accessibility_id")`)
	assert.Error(t, err)
}

func TestAppFind_NoLookup(t *testing.T) {
	engine := New()
	defer engine.Close()

	_, err := engine.Eval(context.Background(), `app.find("path", "window[0]")`)
	assert.Error(t, err)
}

func TestRun_ThrowIsError(t *testing.T) {
	engine := New()
	defer engine.Close()

	err := engine.Run(context.Background(), `throw new Error("total mismatch")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "total mismatch")
	assert.False(t, core.IsCancelled(err))
}

func TestRun_CancelInterrupts(t *testing.T) {
	engine := New()
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := engine.Run(ctx, `while (true) {}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrCancelled), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)

	// The engine stays usable with a fresh context.
	result, err := engine.Eval(context.Background(), "1 + 1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), result)
}

func TestRun_AlreadyCancelled(t *testing.T) {
	engine := New()
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := engine.Run(ctx, `output.ran = true`)
	assert.True(t, core.IsCancelled(err))
	assert.NotContains(t, engine.Output(), "ran")
}

func TestExpand(t *testing.T) {
	engine := New(WithEnv(map[string]string{"USER": "qa"}))
	defer engine.Close()
	ctx := context.Background()
	require.NoError(t, engine.Run(ctx, `output.total = 42`))

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no expressions", "plain text", "plain text"},
		{"env", "hello ${env.USER}", "hello qa"},
		{"output", "total=${output.total}", "total=42"},
		{"arithmetic", "${1 + 2} items", "3 items"},
		{"nested braces", "${({a: 'x'}).a}", "x"},
		{"undefined left as is", "${missing.value}", "${missing.value}"},
		{"unterminated", "${oops", "${oops"},
		{"two expressions", "${env.USER}-${output.total}", "qa-42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Expand(ctx, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
