package sproutsdk

import (
	"context"
	"net/http"

	"github.com/imroc/req/v3"
	"github.com/sproutlog/sproutlog/internal/model"
)

const (
	v1Media     = "/api/v1/media"
	v1MediaByID = "/api/v1/media/{id}"
)

// MediaAPI is the remote store for media metadata records. The binary
// payloads themselves are handled by the media pipeline, not by sync.
type MediaAPI struct {
	client *req.Client
}

func (a *MediaAPI) Create(ctx context.Context, record model.MediaRecord) (*model.MediaRecord, error) {
	var created model.MediaRecord
	res, err := a.client.R().
		SetContext(ctx).
		SetBody(&record).
		SetSuccessResult(&created).
		SetErrorResult(&APIError{}).
		Post(v1Media)
	if err := handleAPIError(res, err, "create media record"); err != nil {
		return nil, err
	}
	return &created, nil
}

func (a *MediaAPI) Get(ctx context.Context, id string) (*model.MediaRecord, error) {
	var record model.MediaRecord
	res, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetSuccessResult(&record).
		SetErrorResult(&APIError{}).
		Get(v1MediaByID)
	if err == nil && res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := handleAPIError(res, err, "get media record"); err != nil {
		return nil, err
	}
	return &record, nil
}

func (a *MediaAPI) ListByParent(ctx context.Context, childID string) ([]model.MediaRecord, error) {
	var records []model.MediaRecord
	res, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", childID).
		SetSuccessResult(&records).
		SetErrorResult(&APIError{}).
		Get(v1ChildMedia)
	if err := handleAPIError(res, err, "list media records"); err != nil {
		return nil, err
	}
	return records, nil
}

func (a *MediaAPI) Update(ctx context.Context, record model.MediaRecord) error {
	res, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", record.ID).
		SetBody(&record).
		SetErrorResult(&APIError{}).
		Put(v1MediaByID)
	if err == nil && res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return handleAPIError(res, err, "update media record")
}

func (a *MediaAPI) Delete(ctx context.Context, id string) error {
	res, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetErrorResult(&APIError{}).
		Delete(v1MediaByID)
	if err == nil && res.StatusCode == http.StatusNotFound {
		return nil
	}
	return handleAPIError(res, err, "delete media record")
}
