// Package blob moves captured photo bytes to whichever backend the device is
// configured for: the sync API itself, an S3-compatible object store, or a
// presigned URL handed out by the API.
package blob

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/client/api"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
)

// Uploader delivers one pending photo. Implementations must be safe for
// concurrent use; the sync engine calls Upload from its photo phase.
type Uploader interface {
	Upload(ctx context.Context, photo *models.PendingPhoto) error
}

// APIUploader sends photos to the sync API as multipart requests. This is the
// default backend.
type APIUploader struct {
	api api.Client
}

var _ Uploader = (*APIUploader)(nil)

func NewAPIUploader(client api.Client) *APIUploader {
	return &APIUploader{api: client}
}

func (u *APIUploader) Upload(ctx context.Context, photo *models.PendingPhoto) error {
	resp, err := u.api.UploadPhoto(ctx, photo)
	if err != nil {
		return err
	}
	// Photo uploads are create-only; the server has no older version to
	// defend, so a conflict answer here is a server bug.
	if resp.Conflict {
		return fmt.Errorf("%w: unexpected for photo %s", common.ErrVersionConflict, photo.ID)
	}
	return nil
}
