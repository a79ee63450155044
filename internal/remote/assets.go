package remote

import (
	"bytes"
	"context"
	"net/http"

	"github.com/heybooks/heybooks-sync/internal/assets"
)

const familyAssets = "assets"

// AssetClient is the binary asset store over the asset API.
type AssetClient struct {
	client *Client
}

var _ assets.Store = (*AssetClient)(nil)

// NewAssetClient creates an asset store on client.
func NewAssetClient(client *Client) *AssetClient {
	return &AssetClient{client: client}
}

func assetPath(p assets.Path) string {
	return "/assets" + escape(p.OwnerID, p.Category, p.FileName)
}

// Put uploads data and returns the public URL the server assigned.
func (a *AssetClient) Put(ctx context.Context, p assets.Path, data []byte, contentType string) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	var out struct {
		URL string `json:"url"`
	}
	err := a.client.do(ctx, request{
		method:      http.MethodPut,
		path:        assetPath(p),
		body:        bytes.NewReader(data),
		contentType: contentType,
		family:      familyAssets,
	}, &out)
	return out.URL, err
}

// Delete removes the asset at p.
func (a *AssetClient) Delete(ctx context.Context, p assets.Path) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return a.client.do(ctx, request{method: http.MethodDelete, path: assetPath(p), family: familyAssets}, nil)
}

// PathOf maps a URL under this API's asset root back to its path.
func (a *AssetClient) PathOf(url string) (assets.Path, bool) {
	return assets.PathUnder(a.client.BaseURL()+"/assets/", url)
}
