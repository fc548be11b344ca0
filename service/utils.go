package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"sort"
	"time"
)

// StringSet is a set of strings (all elements are unique)
type StringSet map[string]struct{}

// Push adds the string to the set if not already exists
func (ss StringSet) Push(s string) {
	ss[s] = struct{}{}
}

// Slice returns a sorted slice from the set
func (ss StringSet) Slice() []string {
	sl := make([]string, 0, len(ss))
	for k := range ss {
		sl = append(sl, k)
	}
	sort.Strings(sl)
	return sl
}

// Retriable calls f until it succeeds, returns a fatal error or fails maxTries times.
// The delay between two calls starts at backoff and is doubled at each try.
func Retriable(ctx context.Context, f func() error, backoff time.Duration, maxTries int) error {
	var err error
	for i := 0; i < maxTries; i++ {
		if err = f(); err == nil || Fatal(err) {
			return err
		}
		if i == maxTries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return MergeErrors(true, err, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// PostJSONRetry: POST of the json-encoded body with N retries in case of temporary errors
func PostJSONRetry(ctx context.Context, url string, body interface{}, nbRetries int) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("PostJSONRetry.Marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("NewRequest: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return GetBodyRetryReq(req, nbRetries)
}

// GetBodyRetryReq executes the request with N retries in case of temporary errors and returns the body of the response.
// 4XX responses are not retried.
func GetBodyRetryReq(req *http.Request, nbRetries int) ([]byte, error) {
	var e *neturl.Error
	var body []byte
	var err error
	var resp *http.Response

	client := &http.Client{}
	for i := 0; i < nbRetries+1; i++ {
		time.Sleep(((1 << i) - 1) * time.Second) // Exponential backoff, starting at 0
		if i > 0 && req.GetBody != nil {
			if req.Body, err = req.GetBody(); err != nil {
				return nil, fmt.Errorf("GetBody: %w", err)
			}
		}
		resp, err = client.Do(req)
		if err != nil {
			if !errors.As(err, &e) || !Temporary(e) {
				return nil, err
			}
			continue
		}
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != 200 {
			err = fmt.Errorf("%s: %s", resp.Status, body)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, err
			}
			continue
		}
		if err == nil {
			return body, nil
		}
	}
	return nil, err
}
