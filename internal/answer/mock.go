package answer

import (
	"context"
	"fmt"
	"strings"
)

// MockAnswerer provides deterministic local replies when no model is configured.
type MockAnswerer struct{}

func NewMockAnswerer() *MockAnswerer { return &MockAnswerer{} }

func (a *MockAnswerer) Answer(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	lang := NormalizeLanguage(req.Language)
	base := strings.TrimSpace(req.Text)
	var reply string
	switch lang {
	case "hi":
		reply = fmt.Sprintf("मैंने सुना: %s", base)
	case "mr":
		reply = fmt.Sprintf("मी ऐकले: %s", base)
	default:
		reply = fmt.Sprintf("I heard you: %s", base)
	}
	return Response{Reply: reply, Language: lang}, nil
}
