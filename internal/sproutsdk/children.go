package sproutsdk

import (
	"context"
	"net/http"

	"github.com/imroc/req/v3"
	"github.com/sproutlog/sproutlog/internal/model"
)

const (
	v1Children   = "/api/v1/children"
	v1ChildByID  = "/api/v1/children/{id}"
	v1ChildDiary = "/api/v1/children/{id}/diary"
	v1ChildMedia = "/api/v1/children/{id}/media"
)

// ChildrenAPI is the remote store for child profiles. The server resolves
// the owning user from the authenticated request.
type ChildrenAPI struct {
	client *req.Client
}

// Create registers the child remotely. The server may rewrite fields (for
// example assign its own id); the returned record is authoritative.
func (a *ChildrenAPI) Create(ctx context.Context, child model.Child) (*model.Child, error) {
	var created model.Child
	res, err := a.client.R().
		SetContext(ctx).
		SetBody(&child).
		SetSuccessResult(&created).
		SetErrorResult(&APIError{}).
		Post(v1Children)
	if err := handleAPIError(res, err, "create child"); err != nil {
		return nil, err
	}
	return &created, nil
}

func (a *ChildrenAPI) Get(ctx context.Context, id string) (*model.Child, error) {
	var child model.Child
	res, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetSuccessResult(&child).
		SetErrorResult(&APIError{}).
		Get(v1ChildByID)
	if err == nil && res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := handleAPIError(res, err, "get child"); err != nil {
		return nil, err
	}
	return &child, nil
}

// ListByParent returns the user's children. The response may be partial; it
// is an authoritative snapshot of what it contains, not of what it omits.
func (a *ChildrenAPI) ListByParent(ctx context.Context, userID string) ([]model.Child, error) {
	var children []model.Child
	res, err := a.client.R().
		SetContext(ctx).
		SetQueryParam("user", userID).
		SetSuccessResult(&children).
		SetErrorResult(&APIError{}).
		Get(v1Children)
	if err := handleAPIError(res, err, "list children"); err != nil {
		return nil, err
	}
	return children, nil
}

// Update replaces the remote record. Returns ErrNotFound when the server
// has never seen the id, so callers can fall back to Create.
func (a *ChildrenAPI) Update(ctx context.Context, child model.Child) error {
	res, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", child.ID).
		SetBody(&child).
		SetErrorResult(&APIError{}).
		Put(v1ChildByID)
	if err == nil && res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return handleAPIError(res, err, "update child")
}

// Delete removes the child remotely. Deleting a record the server no longer
// knows succeeds, so retried deletes stay idempotent.
func (a *ChildrenAPI) Delete(ctx context.Context, id string) error {
	res, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetErrorResult(&APIError{}).
		Delete(v1ChildByID)
	if err == nil && res.StatusCode == http.StatusNotFound {
		return nil
	}
	return handleAPIError(res, err, "delete child")
}
