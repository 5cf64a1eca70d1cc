// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package hcl_adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/hilrunner/internal/ctxlog"
	"github.com/specialistvlad/hilrunner/internal/inspect"
)

// isExprDefined checks if an HCL expression was actually present in the source
// code. Omitted optional attributes are decoded into zero-width placeholder
// expressions, so a nil check is not enough.
func isExprDefined(ctx context.Context, expr hcl.Expression, attrName string) bool {
	if expr == nil {
		return false
	}
	r := expr.Range()
	defined := r.End.Byte > r.Start.Byte
	ctxlog.FromContext(ctx).Debug("Checking if HCL attribute was explicitly defined.",
		"attribute", attrName,
		"hcl_range", r.String(),
		"is_defined", defined,
	)
	return defined
}

// parseDuration parses an optional duration attribute.
func parseDuration(where, attr, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid %s %q: %w", where, attr, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: %s must not be negative", where, attr)
	}
	return d, nil
}

// parsePattern builds a pattern from a literal/regex attribute pair, at most
// one of which may be set.
func parsePattern(where, literalAttr, literal, regexAttr, expr string) (inspect.Pattern, error) {
	switch {
	case literal != "" && expr != "":
		return inspect.Pattern{}, fmt.Errorf("%s: only one of %s and %s may be set", where, literalAttr, regexAttr)
	case expr != "":
		p, err := inspect.Regex(expr)
		if err != nil {
			return inspect.Pattern{}, fmt.Errorf("%s: %w", where, err)
		}
		return p, nil
	case literal != "":
		return inspect.Literal(literal), nil
	default:
		return inspect.Pattern{}, nil
	}
}
