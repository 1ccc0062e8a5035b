// Package scripting evaluates JavaScript page selection expressions.
package scripting

import (
	"context"
	"errors"
)

// ErrInvalidExpression reports an expression that does not compile.
var ErrInvalidExpression = errors.New("scripting: invalid expression")

// Engine compiles page selection expressions.
type Engine interface {
	Compile(expr string) (Predicate, error)
}

// Page is the view of a global page bound to `page` while an expression
// runs.
type Page struct {
	Global   int
	Local    int
	Document int
	Name     string
}

// Predicate decides whether a page is selected. The result of the
// expression is converted with JavaScript truthiness.
type Predicate interface {
	Match(ctx context.Context, p Page) (bool, error)
}
