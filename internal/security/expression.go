package security

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Expression is a compiled access rule such as
// "hasRole('ADMIN') or hasScope('write')".
type Expression struct {
	source  string
	program *vm.Program
}

// CompileExpression compiles src against the access rule environment.
// Unknown identifiers and non-boolean results are rejected here, so a bad
// rule fails at startup rather than on the first request.
func CompileExpression(src string) (*Expression, error) {
	program, err := expr.Compile(src, expr.Env(expressionEnv(nil, nil)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: access expression %q: %w", ErrConfiguration, src, err)
	}
	return &Expression{source: src, program: program}, nil
}

// MustCompileExpression is CompileExpression for static rules.
func MustCompileExpression(src string) *Expression {
	e, err := CompileExpression(src)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Expression) String() string { return e.source }

// Evaluate runs the rule for auth. Any runtime error is returned together
// with false.
func (e *Expression) Evaluate(auth *Authentication, r *http.Request) (bool, error) {
	out, err := expr.Run(e.program, expressionEnv(auth, r))
	if err != nil {
		return false, err
	}
	granted, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("access expression %q returned %T", e.source, out)
	}
	return granted, nil
}

func expressionEnv(auth *Authentication, r *http.Request) map[string]any {
	var method, path, principal, clientID string
	if r != nil {
		method, path = r.Method, r.URL.Path
	}
	if auth != nil {
		principal, clientID = auth.Principal, auth.ClientID
	}
	anyOf := func(check func(string) bool) func(...string) bool {
		return func(values ...string) bool {
			return slices.ContainsFunc(values, check)
		}
	}

	return map[string]any{
		"permitAll":          true,
		"denyAll":            false,
		"anonymous":          auth.IsAnonymous(),
		"authenticated":      auth.IsAuthenticated(),
		"fullyAuthenticated": auth.IsFullyAuthenticated(),
		"clientOnly":         auth.IsClientOnly(),
		"principal":          principal,
		"clientId":           clientID,
		"method":             method,
		"path":               path,

		"isAnonymous":          auth.IsAnonymous,
		"isAuthenticated":      auth.IsAuthenticated,
		"isFullyAuthenticated": auth.IsFullyAuthenticated,
		"hasRole":              auth.HasRole,
		"hasAnyRole":           anyOf(auth.HasRole),
		"hasAuthority":         auth.HasAuthority,
		"hasAnyAuthority":      anyOf(auth.HasAuthority),
		"hasScope":             auth.HasScope,
		"hasAnyScope":          anyOf(auth.HasScope),
	}
}
