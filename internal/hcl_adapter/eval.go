// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package hcl_adapter

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/hilrunner/internal/ctxlog"
	"github.com/specialistvlad/hilrunner/internal/env"
	"github.com/specialistvlad/hilrunner/internal/provision"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// VarEnvPrefix marks environment variables that override variable defaults.
const VarEnvPrefix = "HILRUNNER_VAR_"

// resolveVariables evaluates every declared variable. A value comes from, in
// increasing priority, its default, HILRUNNER_VAR_<NAME>, then overrides.
func resolveVariables(ctx context.Context, decls []*Variable, overrides map[string]string) (map[string]cty.Value, error) {
	logger := ctxlog.FromContext(ctx)
	fromEnv := env.WithPrefix(VarEnvPrefix)
	declared := make(map[string]bool, len(decls))
	values := make(map[string]cty.Value, len(decls))

	for _, v := range decls {
		if declared[v.Name] {
			return nil, fmt.Errorf("variable %q is declared more than once", v.Name)
		}
		declared[v.Name] = true

		typ, err := typeExprToCtyType(ctx, v.Type)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", v.Name, err)
		}

		var val cty.Value
		hasDefault := isExprDefined(ctx, v.Default, "variable."+v.Name+".default")
		if hasDefault {
			d, diags := v.Default.Value(nil)
			if diags.HasErrors() {
				return nil, fmt.Errorf("variable %q: invalid default: %w", v.Name, diags)
			}
			if val, err = convert.Convert(d, typ); err != nil {
				return nil, fmt.Errorf("variable %q: default does not match type %s: %w", v.Name, typ.FriendlyName(), err)
			}
		}

		source := "default"
		raw, ok := overrides[v.Name]
		if ok {
			source = "override"
		} else if raw, ok = fromEnv[v.Name]; ok {
			source = "environment"
		}
		if ok {
			target := typ
			if target == cty.DynamicPseudoType && hasDefault && !val.IsNull() {
				target = val.Type()
			}
			if val, err = typedOverride(raw, target); err != nil {
				return nil, fmt.Errorf("variable %q: %w", v.Name, err)
			}
		} else if !hasDefault {
			return nil, fmt.Errorf("variable %q has no default and no value was given", v.Name)
		}

		logger.Debug("Resolved variable.", "name", v.Name, "source", source)
		values[v.Name] = val
	}

	for name := range overrides {
		if !declared[name] {
			return nil, fmt.Errorf("value given for undeclared variable %q", name)
		}
	}
	return values, nil
}

// typedOverride converts raw into target. Text is kept as a string when the
// target is any.
func typedOverride(raw string, target cty.Type) (cty.Value, error) {
	str := cty.StringVal(raw)
	if target == cty.DynamicPseudoType || target == cty.String {
		return str, nil
	}
	v, err := convert.Convert(str, target)
	if err != nil {
		return cty.NilVal, fmt.Errorf("cannot use %q as %s: %w", raw, target.FriendlyName(), err)
	}
	return v, nil
}

// functions are the helpers available to every expression after the
// variables pass.
var functions = map[string]function.Function{
	"upper":     stdlib.UpperFunc,
	"lower":     stdlib.LowerFunc,
	"format":    stdlib.FormatFunc,
	"join":      stdlib.JoinFunc,
	"trimspace": stdlib.TrimSpaceFunc,
	"replace":   stdlib.ReplaceFunc,
	"concat":    stdlib.ConcatFunc,
}

func varObject(values map[string]cty.Value) cty.Value {
	if len(values) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(values)
}

func varsContext(values map[string]cty.Value) *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"var": varObject(values)},
		Functions: functions,
	}
}

func pipelineContext(values map[string]cty.Value, req provision.Request) *hcl.EvalContext {
	ctx := varsContext(values)
	ctx.Variables["experiment"] = cty.ObjectVal(map[string]cty.Value{
		"name":    cty.StringVal(req.Name),
		"project": cty.StringVal(req.Project),
		"profile": cty.StringVal(req.Profile),
	})
	return ctx
}

// stringValues renders variable values for reporting. Values that are not
// primitives are left out.
func stringValues(values map[string]cty.Value) map[string]string {
	out := make(map[string]string, len(values))
	for name, v := range values {
		if v.IsNull() || !v.IsKnown() {
			out[name] = ""
			continue
		}
		s, err := convert.Convert(v, cty.String)
		if err != nil {
			continue
		}
		out[name] = s.AsString()
	}
	return out
}
