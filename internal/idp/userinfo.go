package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/signin-gate/internal/ioutil"
	"github.com/tidwall/gjson"
)

// ErrProfileFetchFailed is returned when the user-info endpoint does not
// produce a JSON object
var ErrProfileFetchFailed = errors.New("profile fetch failed")

// MaxProfileSize caps the user-info response body
const MaxProfileSize = 1 << 20

// RawProfile is the user-info response as received. Its schema is provider
// specific; it is only guaranteed to be a JSON object.
type RawProfile []byte

// UserInfoFetcher calls the provider's user-info endpoint
type UserInfoFetcher struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
}

// NewUserInfoFetcher creates a fetcher. A nil httpClient uses http.DefaultClient.
func NewUserInfoFetcher(endpoint string, httpClient *http.Client, timeout time.Duration) *UserInfoFetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &UserInfoFetcher{
		endpoint:   endpoint,
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// Fetch retrieves the profile of the user the access token belongs to.
func (f *UserInfoFetcher) Fetch(ctx context.Context, accessToken string) (RawProfile, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("%w: missing access token", ErrProfileFetchFailed)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileFetchFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "signin-gate")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrProfileFetchFailed, resp.StatusCode)
	}

	body, err := ioutil.ReadAll(resp.Body, MaxProfileSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileFetchFailed, err)
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return nil, fmt.Errorf("%w: response is not a JSON object", ErrProfileFetchFailed)
	}

	return RawProfile(body), nil
}
