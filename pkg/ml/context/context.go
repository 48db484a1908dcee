// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package context defines the Context and Variable types: Context organizes the variables (the
// parameters of a model) and the hyperparameters, both organized in scopes.
//
// A Context is a thin reference (current scope plus a few flags) to shared data. Creating a
// new reference with Context.In("layer_0") doesn't copy anything: all references see the same
// variables. This is what allows two components of a model to own the same parameters: the first
// creates the variable, and the second asks for it again in the same scope with Context.Reuse(),
// getting back the very same *Variable.
//
// Example:
//
//	ctx := context.New()
//	ctx.SetParam("learning_rate", 0.1)
//	layerCtx := ctx.In("layer_0")
//	w := layerCtx.VariableWithShape("weights", 784, 500)
//	wAgain := layerCtx.Reuse().VariableWithShape("weights", 784, 500) // wAgain == w
package context

import (
	"fmt"
	"iter"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// ScopeSeparator is used between levels of scope. Scope names cannot use this character.
	ScopeSeparator = "/"

	// RootScope is the scope at the very root.
	RootScope = ScopeSeparator
)

// Context organizes the variables and hyperparameters of a model. See package documentation.
//
// Variable duplicate creation checking: the context is by default Checked, which checks at every
// variable creation whether the variable already exists. VariableWithShape and VariableWithValue will
// panic if:
//
//   - Context.Unique() (the default) and the variable already exists;
//   - Context.Reuse() and the variable doesn't exist.
type Context struct {
	scope string

	// reuse of variables, if set to true.
	reuse bool

	// checked access to variables. If false, reuse is irrelevant: variables are created or reused as needed.
	checked bool

	// initializer used for new variables created with VariableWithShape.
	initializer VariableInitializer

	data *contextData
}

type scopedVariableMap map[string]*Variable

// contextData is shared among all Context references.
type contextData struct {
	params       *scopedParams
	variablesMap map[string]scopedVariableMap

	// variables in creation order.
	variables []*Variable
}

// New returns an empty context, associated with freshly created data.
//
// The default initializer is zero: models are expected to set their own with WithInitializer
// (see package initializers).
func New() *Context {
	return &Context{
		scope:       RootScope,
		checked:     true,
		initializer: zeroInitializer,
		data: &contextData{
			params:       newScopedParams(),
			variablesMap: make(map[string]scopedVariableMap),
		},
	}
}

// Clone does a deep copy of the context: new variable values and a copy of the hyperparameters.
// The new context has the same current scope and flags.
func (ctx *Context) Clone() *Context {
	newCtx := ctx.copy()
	newCtx.data = &contextData{
		params:       ctx.data.params.clone(),
		variablesMap: make(map[string]scopedVariableMap),
	}
	for _, v := range ctx.data.variables {
		newV := &Variable{
			ctx:       newCtx,
			name:      v.name,
			scope:     v.scope,
			rows:      v.rows,
			cols:      v.cols,
			Trainable: v.Trainable,
			value:     mat.DenseCopyOf(v.value),
		}
		newCtx.register(newV)
	}
	return newCtx
}

// copy the reference part of the Context, sharing the same data.
func (ctx *Context) copy() *Context {
	ctx2 := &Context{}
	*ctx2 = *ctx
	return ctx2
}

// JoinScope and name into a single string.
func JoinScope(scope, name string) string {
	if strings.HasSuffix(scope, ScopeSeparator) {
		return scope + name
	}
	if scope == "" {
		return name
	}
	return scope + ScopeSeparator + name
}

// SplitScope splits the scope from the name for a combined string, typically created by JoinScope.
// If there is no scope, scope is set to "".
func SplitScope(scopeAndName string) (scope, name string) {
	if !strings.HasPrefix(scopeAndName, ScopeSeparator) {
		return "", scopeAndName
	}
	idx := strings.LastIndex(scopeAndName, ScopeSeparator)
	name = scopeAndName[idx+1:]
	if idx == 0 {
		scope = RootScope
	} else {
		scope = scopeAndName[:idx]
	}
	return
}

// Scope returns the full scope path.
func (ctx *Context) Scope() string {
	return ctx.scope
}

// EscapeScopeName replaces ScopeSeparator in the string by "_".
func EscapeScopeName(scopeName string) string {
	return strings.ReplaceAll(scopeName, ScopeSeparator, "_")
}

// In returns a new reference to the Context with the extra given scope. No ScopeSeparator ("/") is
// allowed in scope.
func (ctx *Context) In(scope string) *Context {
	if scope == "" {
		exceptions.Panicf("cannot use empty scope for Context.In()")
	}
	if strings.Contains(scope, ScopeSeparator) {
		exceptions.Panicf("cannot use separator %q in scope element %q", ScopeSeparator, scope)
	}
	return ctx.InAbsPath(JoinScope(ctx.scope, scope))
}

// Inf is a shortcut to Context.In combined with fmt.Sprintf.
func (ctx *Context) Inf(format string, args ...any) *Context {
	return ctx.In(fmt.Sprintf(format, args...))
}

// InAbsPath returns a new reference to the Context with the given absolute scope path.
func (ctx *Context) InAbsPath(scopePath string) *Context {
	if !strings.HasPrefix(scopePath, ScopeSeparator) {
		exceptions.Panicf("absolute scope path must start with separator %q, instead got %q", ScopeSeparator, scopePath)
	}
	ctx2 := ctx.copy()
	ctx2.scope = scopePath
	return ctx2
}

// Reuse returns a new reference to the Context set to reuse existing variables.
func (ctx *Context) Reuse() *Context {
	if ctx.reuse {
		return ctx
	}
	ctx2 := ctx.copy()
	ctx2.reuse = true
	return ctx2
}

// Unique returns a new reference to the Context, set to only allow new variables.
func (ctx *Context) Unique() *Context {
	if !ctx.reuse {
		return ctx
	}
	ctx2 := ctx.copy()
	ctx2.reuse = false
	return ctx2
}

// IsReuse returns whether Context is marked for reuse. This is irrelevant if IsChecked is false.
func (ctx *Context) IsReuse() bool { return ctx.reuse }

// Checked returns a new context with the checked flag set accordingly.
func (ctx *Context) Checked(checked bool) *Context {
	if ctx.checked == checked {
		return ctx
	}
	ctx2 := ctx.copy()
	ctx2.checked = checked
	return ctx2
}

// IsChecked returns whether context is checking reuse rules.
func (ctx *Context) IsChecked() bool { return ctx.checked }

// WithInitializer returns a new reference to the Context, with the initializer set.
// It doesn't affect other references.
func (ctx *Context) WithInitializer(initializer VariableInitializer) *Context {
	if initializer == nil {
		exceptions.Panicf("Context.WithInitializer passed a nil initializer")
	}
	ctx2 := ctx.copy()
	ctx2.initializer = initializer
	return ctx2
}

// GetParam returns the value for the given param key, searching successively from
// the current scope back to the root scope ("/").
func (ctx *Context) GetParam(key string) (value any, found bool) {
	return ctx.data.params.get(ctx.scope, key)
}

// MustGetParam is like GetParam, but panics if the parameter is not found, or if it is not of type T.
func MustGetParam[T any](ctx *Context, key string) T {
	value, found := ctx.GetParam(key)
	if !found {
		exceptions.Panicf("Context.MustGetParam[%T](ctx, %q): parameter not found in scope %q", *new(T), key, ctx.scope)
	}
	t, ok := value.(T)
	if !ok {
		exceptions.Panicf("Context.MustGetParam[%T](ctx, %q): parameter is of type %T", t, key, value)
	}
	return t
}

// GetParamOr returns the value of the parameter key, or defaultValue if it's not set.
// Integer and float values are converted to T if needed, since values parsed from the command
// line or from JSON may come with a different numeric type.
// It panics if the value is set with an incompatible type.
func GetParamOr[T any](ctx *Context, key string, defaultValue T) T {
	value, found := ctx.GetParam(key)
	if !found || value == nil {
		return defaultValue
	}
	if t, ok := value.(T); ok {
		return t
	}
	var t T
	switch ptr := any(&t).(type) {
	case *float64:
		switch v := value.(type) {
		case int:
			*ptr = float64(v)
			return t
		case float32:
			*ptr = float64(v)
			return t
		}
	case *int:
		switch v := value.(type) {
		case int64:
			*ptr = int(v)
			return t
		case float64:
			if float64(int(v)) == v {
				*ptr = int(v)
				return t
			}
		}
	}
	exceptions.Panicf("Context.GetParamOr[%T](ctx, %q): parameter is of incompatible type %T", t, key, value)
	return t
}

// SetParam sets the given param in the current scope.
// It will be visible (by GetParam) within this scope and descendant scopes, but not by other scopes.
func (ctx *Context) SetParam(key string, value any) {
	ctx.data.params.set(ctx.scope, key, value)
}

// SetParams sets a collection of parameters in the current scope.
func (ctx *Context) SetParams(keyValues map[string]any) {
	for key, value := range keyValues {
		ctx.data.params.set(ctx.scope, key, value)
	}
}

// EnumerateParams enumerates all parameters for all scopes, sorted by scope and key.
func (ctx *Context) EnumerateParams(fn func(scope, key string, value any)) {
	ctx.data.params.enumerate(fn)
}

// GetVariableByScopeAndName returns the variable with the given name in the given scope, or nil.
func (ctx *Context) GetVariableByScopeAndName(scope, name string) *Variable {
	scopeVars, ok := ctx.data.variablesMap[scope]
	if !ok {
		return nil
	}
	return scopeVars[name]
}

// GetVariable returns the variable in the current scope, or nil if it doesn't exist.
func (ctx *Context) GetVariable(name string) *Variable {
	return ctx.GetVariableByScopeAndName(ctx.scope, name)
}

func (ctx *Context) register(v *Variable) {
	scopeVars, ok := ctx.data.variablesMap[v.scope]
	if !ok {
		scopeVars = make(scopedVariableMap)
		ctx.data.variablesMap[v.scope] = scopeVars
	}
	scopeVars[v.name] = v
	ctx.data.variables = append(ctx.data.variables, v)
}

// checkReuse enforces the Checked/Reuse rules, and returns the existing variable, if any.
func (ctx *Context) checkReuse(name string) *Variable {
	v := ctx.GetVariable(name)
	if v == nil && ctx.checked && ctx.reuse {
		exceptions.Panicf("requested variable %q in scope %q with Context.Reuse set, but variable does not exist",
			name, ctx.scope)
	}
	if v != nil && ctx.checked && !ctx.reuse {
		exceptions.Panicf("variable %q for scope %q already exists -- if this was deliberate, use Context.Reuse() "+
			"or Context.Checked(false)", name, ctx.scope)
	}
	return v
}

// VariableWithShape creates or returns an existing variable with the given shape in the current scope.
// New variables are initialized with the current initializer, and are marked as trainable.
//
// If the variable already exists (and the context allows reuse) the same *Variable is returned, and it
// panics if the requested shape differs from the original.
func (ctx *Context) VariableWithShape(name string, rows, cols int) *Variable {
	if rows <= 0 || cols <= 0 {
		exceptions.Panicf("variable %q in scope %q: invalid shape [%d, %d]", name, ctx.scope, rows, cols)
	}
	if v := ctx.checkReuse(name); v != nil {
		if v.rows != rows || v.cols != cols {
			exceptions.Panicf("requested to reuse variable %q in scope %q, but with different shape from original: "+
				"previous shape=[%d, %d], requested shape=[%d, %d]", name, ctx.scope, v.rows, v.cols, rows, cols)
		}
		return v
	}
	value := ctx.initializer(rows, cols)
	if r, c := value.Dims(); r != rows || c != cols {
		exceptions.Panicf("initializer for variable %q in scope %q returned shape [%d, %d], wanted [%d, %d]",
			name, ctx.scope, r, c, rows, cols)
	}
	v := &Variable{
		ctx:       ctx,
		name:      name,
		scope:     ctx.scope,
		rows:      rows,
		cols:      cols,
		Trainable: true,
		value:     value,
	}
	ctx.register(v)
	return v
}

// VariableWithValue creates or returns a variable initialized with a copy of the given value in the
// current scope. If the variable already exists its value is not overwritten.
func (ctx *Context) VariableWithValue(name string, value mat.Matrix) *Variable {
	rows, cols := value.Dims()
	if v := ctx.checkReuse(name); v != nil {
		if v.rows != rows || v.cols != cols {
			exceptions.Panicf("requested to reuse variable %q in scope %q, but with different shape from original: "+
				"previous shape=[%d, %d], requested shape=[%d, %d]", name, ctx.scope, v.rows, v.cols, rows, cols)
		}
		return v
	}
	v := &Variable{
		ctx:       ctx,
		name:      name,
		scope:     ctx.scope,
		rows:      rows,
		cols:      cols,
		Trainable: true,
		value:     mat.DenseCopyOf(value),
	}
	ctx.register(v)
	return v
}

// IterVariables iterates over all variables, in creation order.
func (ctx *Context) IterVariables() iter.Seq[*Variable] {
	return func(yield func(*Variable) bool) {
		for _, v := range ctx.data.variables {
			if !yield(v) {
				return
			}
		}
	}
}

// IterVariablesInScope iterates over the variables in the current scope or its sub-scopes, in creation order.
func (ctx *Context) IterVariablesInScope() iter.Seq[*Variable] {
	prefix := ctx.scope
	if prefix != RootScope {
		prefix += ScopeSeparator
	}
	return func(yield func(*Variable) bool) {
		for _, v := range ctx.data.variables {
			if v.scope != ctx.scope && !strings.HasPrefix(v.scope, prefix) {
				continue
			}
			if !yield(v) {
				return
			}
		}
	}
}

// NumVariables returns the number of variables in the context.
func (ctx *Context) NumVariables() int {
	return len(ctx.data.variables)
}

// NumParameters returns the summed-up number of scalar values of all variables in the context.
func (ctx *Context) NumParameters() int {
	total := 0
	for _, v := range ctx.data.variables {
		total += v.NumParameters()
	}
	return total
}

// DeleteVariable removes the variable from the context. It returns an error if it doesn't exist.
func (ctx *Context) DeleteVariable(scope, name string) error {
	v := ctx.GetVariableByScopeAndName(scope, name)
	if v == nil {
		return errors.Errorf("variable %q in scope %q doesn't exist", name, scope)
	}
	delete(ctx.data.variablesMap[scope], name)
	for ii, other := range ctx.data.variables {
		if other == v {
			ctx.data.variables = append(ctx.data.variables[:ii], ctx.data.variables[ii+1:]...)
			break
		}
	}
	return nil
}
