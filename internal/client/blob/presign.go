package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dmitrijs2005/fieldsync/internal/client/api"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/netx"
)

// PresignUploader asks the API for a one-shot upload URL and PUTs the photo
// bytes there directly. The API only ever sees metadata, which keeps large
// payloads off its request path without giving devices object-store
// credentials.
type PresignUploader struct {
	api api.Client
	hc  *http.Client
}

var _ Uploader = (*PresignUploader)(nil)

func NewPresignUploader(client api.Client) *PresignUploader {
	return &PresignUploader{api: client, hc: &http.Client{}}
}

func (u *PresignUploader) Upload(ctx context.Context, photo *models.PendingPhoto) error {
	params := url.Values{}
	params.Set("parentId", photo.ParentID)
	params.Set("fileName", photo.FileName)
	body, err := u.api.Fetch(ctx, "/api/photos/presign?"+params.Encode())
	if err != nil {
		return err
	}

	var grant struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		return fmt.Errorf("failed to decode presign response: %w", err)
	}
	if grant.URL == "" {
		return fmt.Errorf("%w: presign response missing url", common.ErrServerRejected)
	}

	if err := netx.UploadToPresignedURL(ctx, u.hc, grant.URL, photo.Data); err != nil {
		return fmt.Errorf("%w: %s", common.ErrUnavailable, err)
	}
	return nil
}
