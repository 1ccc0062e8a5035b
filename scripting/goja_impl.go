package scripting

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

type GojaEngine struct{}

func NewEngine() *GojaEngine { return &GojaEngine{} }

// Compile wraps expr in a function of `page`. Each predicate owns a runtime
// so predicates can be used independently.
func (e *GojaEngine) Compile(expr string) (Predicate, error) {
	prog, err := goja.Compile("where", "(function(page) { return ("+expr+"); })", true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	vm := goja.New()
	fnVal, err := vm.RunProgram(prog)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, fmt.Errorf("%w: not a function", ErrInvalidExpression)
	}
	return &gojaPredicate{vm: vm, fn: fn, src: expr}, nil
}

type gojaPredicate struct {
	mu  sync.Mutex
	vm  *goja.Runtime
	fn  goja.Callable
	src string
}

func (p *gojaPredicate) Match(ctx context.Context, page Page) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	obj := p.vm.NewObject()
	for k, v := range map[string]interface{}{
		"global":   page.Global,
		"local":    page.Local,
		"document": page.Document,
		"name":     page.Name,
	} {
		if err := obj.Set(k, v); err != nil {
			return false, err
		}
	}
	val, err := run(ctx, p.vm, func() (goja.Value, error) { return p.fn(goja.Undefined(), obj) })
	if err != nil {
		return false, fmt.Errorf("scripting: %q on page %d: %w", p.src, page.Global, err)
	}
	return val.ToBoolean(), nil
}

// run calls f on vm, interrupting it when ctx ends.
func run(ctx context.Context, vm *goja.Runtime, f func() (goja.Value, error)) (val goja.Value, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)
	defer vm.ClearInterrupt()

	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			val, err = nil, fmt.Errorf("scripting: panic: %v", r)
		}
	}()

	val, err = f()
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause := interrupted.Unwrap(); cause != nil {
				return nil, cause
			}
			return nil, context.Canceled
		}
		return nil, err
	}
	return val, nil
}
