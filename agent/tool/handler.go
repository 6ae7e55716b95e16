package tool

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Typed adapts a function over a decoded argument struct into a Handler.
// Arguments are decoded with mapstructure using the struct's json tags.
func Typed[A any](run func(ctx context.Context, inv Invocation, args A) (Result, error)) Handler {
	return typedHandler[A]{run: run}
}

// TypedWithCheck is Typed plus a semantic check that runs before approval.
func TypedWithCheck[A any](check func(args A) error, run func(ctx context.Context, inv Invocation, args A) (Result, error)) Handler {
	return typedHandler[A]{check: check, run: run}
}

type typedHandler[A any] struct {
	check func(A) error
	run   func(context.Context, Invocation, A) (Result, error)
}

func (h typedHandler[A]) Validate(args map[string]any) error {
	decoded, err := DecodeArgs[A](args)
	if err != nil {
		return err
	}
	if h.check != nil {
		return h.check(decoded)
	}
	return nil
}

func (h typedHandler[A]) Execute(ctx context.Context, inv Invocation) (Result, error) {
	decoded, err := DecodeArgs[A](inv.Call.Args)
	if err != nil {
		return Result{}, err
	}
	return h.run(ctx, inv, decoded)
}

func DecodeArgs[A any](args map[string]any) (A, error) {
	var out A
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, fmt.Errorf("build args decoder: %w", err)
	}
	if err := dec.Decode(args); err != nil {
		return out, fmt.Errorf("decode args: %w", err)
	}
	return out, nil
}

// Static is a handler that ignores its arguments and answers with a fixed message.
type Static string

func (Static) Validate(map[string]any) error { return nil }

func (s Static) Execute(context.Context, Invocation) (Result, error) {
	return Result{Content: string(s)}, nil
}
