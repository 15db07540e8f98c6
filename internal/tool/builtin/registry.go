package builtin

import (
	"context"

	"github.com/archflow/archflow/pkg/invoker"
)

// Registry returns an invoker.MapRegistry populated with every
// built-in tool archflow ships out of the box. Callers typically merge
// this with their own invoker.Registry of external/ModelAdapter-backed
// tools before constructing the pkg/invoker.Invoker.
func Registry() invoker.MapRegistry {
	jq := NewJQTransform()
	return invoker.MapRegistry{
		"jq": func(ctx context.Context, input map[string]any) (any, error) {
			return jq.Execute(ctx, input)
		},
	}
}
