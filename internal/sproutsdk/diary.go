package sproutsdk

import (
	"context"
	"net/http"

	"github.com/imroc/req/v3"
	"github.com/sproutlog/sproutlog/internal/model"
)

const (
	v1Diary     = "/api/v1/diary"
	v1DiaryByID = "/api/v1/diary/{id}"
)

// DiaryAPI is the remote store for diary entries.
type DiaryAPI struct {
	client *req.Client
}

func (a *DiaryAPI) Create(ctx context.Context, entry model.DiaryEntry) (*model.DiaryEntry, error) {
	var created model.DiaryEntry
	res, err := a.client.R().
		SetContext(ctx).
		SetBody(&entry).
		SetSuccessResult(&created).
		SetErrorResult(&APIError{}).
		Post(v1Diary)
	if err := handleAPIError(res, err, "create diary entry"); err != nil {
		return nil, err
	}
	return &created, nil
}

func (a *DiaryAPI) Get(ctx context.Context, id string) (*model.DiaryEntry, error) {
	var entry model.DiaryEntry
	res, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetSuccessResult(&entry).
		SetErrorResult(&APIError{}).
		Get(v1DiaryByID)
	if err == nil && res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := handleAPIError(res, err, "get diary entry"); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (a *DiaryAPI) ListByParent(ctx context.Context, childID string) ([]model.DiaryEntry, error) {
	var entries []model.DiaryEntry
	res, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", childID).
		SetSuccessResult(&entries).
		SetErrorResult(&APIError{}).
		Get(v1ChildDiary)
	if err := handleAPIError(res, err, "list diary entries"); err != nil {
		return nil, err
	}
	return entries, nil
}

func (a *DiaryAPI) Update(ctx context.Context, entry model.DiaryEntry) error {
	res, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", entry.ID).
		SetBody(&entry).
		SetErrorResult(&APIError{}).
		Put(v1DiaryByID)
	if err == nil && res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return handleAPIError(res, err, "update diary entry")
}

func (a *DiaryAPI) Delete(ctx context.Context, id string) error {
	res, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetErrorResult(&APIError{}).
		Delete(v1DiaryByID)
	if err == nil && res.StatusCode == http.StatusNotFound {
		return nil
	}
	return handleAPIError(res, err, "delete diary entry")
}
