package capability

import (
	"context"
	"fmt"
	"net/http"
)

const figmaAPI = "https://api.figma.com/v1"

// FigmaAdapter implements DesignTool against the Figma REST API, grounded
// on original_source/backend/app/adapters/figma_adapter.py.
type FigmaAdapter struct {
	token  string
	client *http.Client
}

// NewFigmaAdapter constructs an adapter authenticated with a personal
// access token.
func NewFigmaAdapter(token string) *FigmaAdapter {
	return &FigmaAdapter{token: token, client: defaultHTTPClient()}
}

func (f *FigmaAdapter) headers() map[string]string {
	return map[string]string{"X-Figma-Token": f.token}
}

// TestConnection verifies the token by fetching the authenticated user.
func (f *FigmaAdapter) TestConnection(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := doJSON(ctx, f.client, http.MethodGet, figmaAPI+"/me", f.headers(), nil, &out)
	return out, err
}

func (f *FigmaAdapter) GetFile(ctx context.Context, fileKey string) (map[string]any, error) {
	var out map[string]any
	err := doJSON(ctx, f.client, http.MethodGet, fmt.Sprintf("%s/files/%s", figmaAPI, fileKey), f.headers(), nil, &out)
	return out, err
}

func (f *FigmaAdapter) GetComponents(ctx context.Context, fileKey string) (map[string]any, error) {
	var out map[string]any
	err := doJSON(ctx, f.client, http.MethodGet, fmt.Sprintf("%s/files/%s/components", figmaAPI, fileKey), f.headers(), nil, &out)
	return out, err
}
