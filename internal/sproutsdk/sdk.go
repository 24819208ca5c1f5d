// Package sproutsdk is the client for the Sproutlog server API. All methods
// return explicit errors; nothing panics or throws across this boundary.
package sproutsdk

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/imroc/req/v3"
	"github.com/sproutlog/sproutlog/internal/utils"
	"github.com/sproutlog/sproutlog/internal/version"
)

const (
	HeaderUserAgent     = "User-Agent"
	HeaderSproutVersion = "X-Sprout-Version"
	HeaderSproutUser    = "X-Sprout-User"
	HeaderSproutDevice  = "X-Sprout-Device-Id"

	v1Status = "/api/v1/status"
)

var userAgent = fmt.Sprintf("Sproutlog/%s (%s; %s; %s)", version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

// SDK is the Sproutlog API client.
type SDK struct {
	client   *req.Client
	baseURL  string
	Children *ChildrenAPI
	Diary    *DiaryAPI
	Media    *MediaAPI
	Events   *EventsAPI
}

// New creates an SDK client for the given server base URL.
func New(baseURL string) (*SDK, error) {
	if baseURL == "" {
		return nil, ErrNoServerURL
	}

	client := req.C().
		SetBaseURL(baseURL).
		SetCommonRetryCount(3).
		SetCommonRetryFixedInterval(time.Second).
		SetUserAgent(userAgent).
		SetCommonHeader(HeaderSproutVersion, version.Version).
		SetCommonHeader(HeaderSproutDevice, utils.DeviceID).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	return &SDK{
		client:   client,
		baseURL:  baseURL,
		Children: &ChildrenAPI{client: client},
		Diary:    &DiaryAPI{client: client},
		Media:    &MediaAPI{client: client},
		Events:   newEventsAPI(baseURL),
	}, nil
}

// Login sets the user for API calls and realtime events.
func (s *SDK) Login(userID string) error {
	if userID == "" {
		return ErrNoUser
	}
	s.client.SetCommonHeader(HeaderSproutUser, userID)
	s.Events.SetUser(userID)
	return nil
}

// Healthz probes the server. A nil error means the remote store is reachable
// and answering, which is what the connectivity monitor treats as connected.
func (s *SDK) Healthz(ctx context.Context) error {
	res, err := s.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		Get(v1Status)
	return handleAPIError(res, err, "status")
}

// Close terminates the realtime connection and releases the HTTP client.
func (s *SDK) Close() {
	s.Events.Close()
}
