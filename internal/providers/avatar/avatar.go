package avatar

import (
	"context"
	"strings"
)

type Request struct {
	Text     string
	Persona  string
	Emotion  string
	Language string
	Autoplay bool
}

type Response struct {
	Success bool
	Handle  string
	URL     string
}

// Generator renders a spoken-avatar clip for one piece of text.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

const DefaultPersona = "black_man"

var validPersonas = map[string]bool{
	"japanese_man":       true,
	"old_european_woman": true,
	"european_woman":     true,
	"black_man":          true,
	"japanese_woman":     true,
	"iranian_man":        true,
	"mexican_man":        true,
	"mexican_woman":      true,
}

// NormalizePersona returns p when the avatar service knows it, else the
// default persona.
func NormalizePersona(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if validPersonas[p] {
		return p
	}
	return DefaultPersona
}
