package command

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindParse(t *testing.T) {
	tests := []struct {
		kind    Kind
		raw     string
		want    any
		wantErr bool
	}{
		{KindString, "anything", "anything", false},
		{KindInt, "42", 42, false},
		{KindInt, " 7 ", 7, false},
		{KindInt, "not-a-number", nil, true},
		{KindUint, "3", uint64(3), false},
		{KindUint, "-3", nil, true},
		{KindBool, "true", true, false},
		{KindBool, "False", false, false},
		{KindBool, "yes", nil, true},
		{KindFloat, "1.5", 1.5, false},
		{KindFloat, "x", nil, true},
		{KindDuration, "250ms", 250 * time.Millisecond, false},
		{KindDuration, "soon", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String()+"/"+tt.raw, func(t *testing.T) {
			got, err := tt.kind.Parse(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("integer")
	require.NoError(t, err)
	assert.Equal(t, KindInt, k)

	k, err = ParseKind("Boolean")
	require.NoError(t, err)
	assert.Equal(t, KindBool, k)

	_, err = ParseKind("complex128")
	assert.Error(t, err)
}

func TestValidateAggregatesProblems(t *testing.T) {
	schema := Schema{
		{Name: "alias", Kind: KindString},
		{Name: "age", Kind: KindInt},
	}

	err := Validate(Args{"age": "not-a-number"}, schema)
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Problems, 2)
	assert.Contains(t, err.Error(), "alias")
	assert.Contains(t, err.Error(), "missing attribute")
	assert.Contains(t, err.Error(), "age")
	assert.Contains(t, err.Error(), "not-a-number")
}

func TestValidateAcceptsConvertibleArgs(t *testing.T) {
	schema := Schema{
		{Name: "alias", Kind: KindString},
		{Name: "age", Kind: KindInt},
	}
	assert.NoError(t, Validate(Args{"alias": "bob", "age": "31", "extra": "ignored"}, schema))
	assert.NoError(t, Validate(Args{}, nil))
}

func TestSchemaString(t *testing.T) {
	s := Schema{{Name: "alias", Kind: KindString}, {Name: "age", Kind: KindInt}}
	assert.Equal(t, "alias: string, age: int", s.String())
}

func TestInvokeSchedulesCleanupOnce(t *testing.T) {
	var calls atomic.Int32
	item := &Item{
		Handler: func(ctx context.Context, env *Env) error {
			calls.Add(1)
			return nil
		},
		Cleanup: func(ctx context.Context, env *Env) error { return nil },
	}
	cleanups := &Cleanups{}

	for range 5 {
		item.Invoke(context.Background(), NewEnv(nil, nil, nil, nil), cleanups, nil)
	}

	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, 1, cleanups.Len())
	assert.True(t, item.CleanupScheduled())
	assert.False(t, item.Running())
}

func TestInvokeConcurrentSchedulesOnce(t *testing.T) {
	item := &Item{
		Handler: func(ctx context.Context, env *Env) error { return nil },
		Cleanup: func(ctx context.Context, env *Env) error { return nil },
	}
	cleanups := &Cleanups{}

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item.Invoke(context.Background(), NewEnv(nil, nil, nil, nil), cleanups, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, cleanups.Len())
}

func TestInvokeWithoutSchedulerDefersScheduling(t *testing.T) {
	item := &Item{
		Handler: func(ctx context.Context, env *Env) error { return nil },
		Cleanup: func(ctx context.Context, env *Env) error { return nil },
	}

	item.Invoke(context.Background(), NewEnv(nil, nil, nil, nil), nil, nil)
	assert.False(t, item.CleanupScheduled())

	cleanups := &Cleanups{}
	item.Invoke(context.Background(), NewEnv(nil, nil, nil, nil), cleanups, nil)
	item.Invoke(context.Background(), NewEnv(nil, nil, nil, nil), cleanups, nil)
	assert.True(t, item.CleanupScheduled())
	assert.Equal(t, 1, cleanups.Len())
}

func TestInvokeWithoutCleanupSchedulesNothing(t *testing.T) {
	item := New("no cleanup", func(ctx context.Context, env *Env) error { return nil })
	cleanups := &Cleanups{}
	item.Invoke(context.Background(), NewEnv(nil, nil, nil, nil), cleanups, nil)
	assert.Equal(t, 0, cleanups.Len())
}

func TestInvokeIsolatesErrors(t *testing.T) {
	t.Run("returned error", func(t *testing.T) {
		item := New("", func(ctx context.Context, env *Env) error { return errors.New("boom") })
		var got error
		item.Invoke(context.Background(), NewEnv(nil, nil, nil, nil), nil, func(err error) { got = err })
		require.Error(t, got)
		assert.Equal(t, "boom", got.Error())
		assert.False(t, item.Running())
	})

	t.Run("panic", func(t *testing.T) {
		item := New("", func(ctx context.Context, env *Env) error { panic("kaboom") })
		var got error
		assert.NotPanics(t, func() {
			item.Invoke(context.Background(), NewEnv(nil, nil, nil, nil), nil, func(err error) { got = err })
		})

		var perr *PanicError
		require.True(t, errors.As(got, &perr))
		assert.Equal(t, "kaboom", perr.Value)
		assert.NotEmpty(t, perr.Stack)
		assert.False(t, item.Running())
	})

	t.Run("nil onError", func(t *testing.T) {
		item := New("", func(ctx context.Context, env *Env) error { return errors.New("ignored") })
		assert.NotPanics(t, func() {
			item.Invoke(context.Background(), NewEnv(nil, nil, nil, nil), nil, nil)
		})
	})
}

func TestInvokeCleanupIsolatesErrors(t *testing.T) {
	failing := &Item{Cleanup: func(ctx context.Context, env *Env) error { panic(errors.New("cleanup exploded")) }}
	var ran bool
	healthy := &Item{Cleanup: func(ctx context.Context, env *Env) error {
		ran = true
		return nil
	}}

	var errs []error
	for _, it := range []*Item{failing, healthy} {
		it.InvokeCleanup(context.Background(), NewEnv(nil, nil, nil, nil), func(err error) { errs = append(errs, err) })
	}

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "cleanup exploded")
	assert.True(t, ran)
}

func TestWaitIdleBlocksWhileRunning(t *testing.T) {
	item := &Item{}
	item.running.Store(true)

	go func() {
		time.Sleep(50 * time.Millisecond)
		item.running.Store(false)
	}()

	start := time.Now()
	item.WaitIdle(context.Background())
	assert.False(t, item.Running())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitIdleHonoursContext(t *testing.T) {
	item := &Item{}
	item.running.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	item.WaitIdle(ctx)
	assert.True(t, item.Running())
}

func TestInitiateBuiltinsWin(t *testing.T) {
	builtin := New("builtin", nil)
	override := New("override", nil)
	extra := New("extra", nil)

	reg, err := Initiate(
		[]Entry{{Name: "SayHello", Item: builtin}},
		map[string]*Item{"SayHello": override, "Custom": extra},
		false,
	)
	require.NoError(t, err)

	got, ok := reg.Lookup("SayHello")
	require.True(t, ok)
	assert.Same(t, builtin, got)

	_, ok = reg.Lookup("Custom")
	assert.True(t, ok)
	assert.Equal(t, 2, reg.Len())
}

func TestInitiateReplace(t *testing.T) {
	reg, err := Initiate(
		[]Entry{{Name: "SayHello", Item: New("builtin", nil)}},
		map[string]*Item{"Custom": New("extra", nil)},
		true,
	)
	require.NoError(t, err)

	_, ok := reg.Lookup("SayHello")
	assert.False(t, ok)
	_, ok = reg.Lookup("Custom")
	assert.True(t, ok)
}

func TestRegistryFinalize(t *testing.T) {
	reg := NewRegistry()
	a := New("a", nil)
	b := New("b", nil)
	require.NoError(t, reg.Register("Alpha", a))
	require.NoError(t, reg.Register("Beta", b))
	assert.ErrorIs(t, reg.Register("Alpha", New("dup", nil)), ErrDuplicate)

	reg.Finalize(0)

	assert.Equal(t, "Alpha", a.Name())
	assert.Equal(t, "Beta", b.String())
	assert.ErrorIs(t, reg.Register("Gamma", New("late", nil)), ErrFrozen)

	entries := reg.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "Alpha", entries[0].Name)
	assert.Equal(t, "Beta", entries[1].Name)
}

func TestRegistryRejectsEmpty(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register("", New("x", nil)))
	assert.Error(t, reg.Register("X", nil))
}

func TestBuiltins(t *testing.T) {
	reg, err := Initiate(Builtins(BuiltinOptions{}), nil, false)
	require.NoError(t, err)
	reg.Finalize(0)

	names := make([]string, 0, reg.Len())
	for _, e := range reg.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"SayHello", "LongTask", "ThrowError", "TestValidate", "End"}, names)

	t.Run("SayHello", func(t *testing.T) {
		var out bytes.Buffer
		it, _ := reg.Lookup("SayHello")
		it.Invoke(context.Background(), NewEnv(nil, &out, nil, nil), &Cleanups{}, nil)
		assert.Equal(t, "Hello World\n", out.String())
	})

	t.Run("TestValidate", func(t *testing.T) {
		var out bytes.Buffer
		it, _ := reg.Lookup("TestValidate")
		args := Args{"alias": "neo", "age": "37"}
		require.NoError(t, Validate(args, it.Schema))
		it.Invoke(context.Background(), NewEnv(args, &out, nil, nil), &Cleanups{}, nil)
		assert.Equal(t, "neo(37)\n", out.String())
	})

	t.Run("LongTask", func(t *testing.T) {
		it, _ := reg.Lookup("LongTask")
		assert.True(t, it.Foreground)
		cleanups := &Cleanups{}
		it.Invoke(context.Background(), NewEnv(nil, nil, nil, nil), cleanups, nil)
		assert.Equal(t, 1, cleanups.Len())
	})

	t.Run("ThrowError", func(t *testing.T) {
		it, _ := reg.Lookup("ThrowError")
		var errs []error
		onError := func(err error) { errs = append(errs, err) }
		it.Invoke(context.Background(), NewEnv(nil, nil, nil, nil), &Cleanups{}, onError)
		it.InvokeCleanup(context.Background(), NewEnv(nil, nil, nil, nil), onError)
		require.Len(t, errs, 2)
		assert.Contains(t, errs[0].Error(), "handler failed")
		assert.Contains(t, errs[1].Error(), "cleanup failed")
	})

	t.Run("End", func(t *testing.T) {
		var stopped bool
		it, _ := reg.Lookup("End")
		it.Invoke(context.Background(), NewEnv(nil, nil, nil, func() { stopped = true }), &Cleanups{}, nil)
		assert.True(t, stopped)
	})
}
