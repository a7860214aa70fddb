package content

import (
	"context"
	"github.com/a-h/templ"
	"strings"
)

// Render takes a templ.Component and renders it to a string.
func Render(ctx context.Context, tpl templ.Component) (string, error) {
	var sb strings.Builder
	if err := tpl.Render(ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}
