package command

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// BuiltinOptions tunes the reference commands.
type BuiltinOptions struct {
	LongTask        time.Duration
	LongTaskCleanup time.Duration
}

// Builtins returns the reference command set in display order.
func Builtins(opts BuiltinOptions) []Entry {
	return []Entry{
		{Name: "SayHello", Item: New("Prints Hello World", func(ctx context.Context, env *Env) error {
			_, err := fmt.Fprintln(env.Out, "Hello World")
			return err
		})},
		{Name: "LongTask", Item: &Item{
			Description: "Sleeps for a while, then sleeps again at shutdown",
			Foreground:  true,
			Handler: func(ctx context.Context, env *Env) error {
				fmt.Fprintln(env.Out, "Running Long Task")
				return sleep(ctx, opts.LongTask)
			},
			Cleanup: func(ctx context.Context, env *Env) error {
				fmt.Fprintln(env.Out, "Running cleanup")
				return sleep(ctx, opts.LongTaskCleanup)
			},
		}},
		{Name: "ThrowError", Item: &Item{
			Description: "Fails in both the handler and the cleanup",
			Handler: func(ctx context.Context, env *Env) error {
				panic(errors.New("ThrowError handler failed"))
			},
			Cleanup: func(ctx context.Context, env *Env) error {
				return errors.New("ThrowError cleanup failed")
			},
		}},
		{Name: "TestValidate", Item: &Item{
			Schema: Schema{
				{Name: "alias", Kind: KindString},
				{Name: "age", Kind: KindInt},
			},
			Handler: func(ctx context.Context, env *Env) error {
				age, err := env.Args.Int("age")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(env.Out, "%s(%d)\n", env.Args.Get("alias"), age)
				return err
			},
		}},
		{Name: "End", Item: New("Stops reading commands", func(ctx context.Context, env *Env) error {
			env.RequestStop()
			return nil
		})},
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
