package registry

import (
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

const (
	defaultRetries = 3
	// registry API responses are small JSON documents; anything
	// bigger is not something we want to hold in memory.
	maxResponseBytes = 16 << 20
)

// Options are shared by the remote clients.
type Options struct {
	// Transport for requests; http.DefaultTransport when nil.
	Transport http.RoundTripper
	Logger    log.Logger
	// BackOff makes a fresh retry policy for each request. When nil,
	// requests are retried a few times with exponential back-off.
	BackOff func() backoff.BackOff
}

func (o Options) logger() log.Logger {
	if o.Logger == nil {
		return log.NewNopLogger()
	}
	return o.Logger
}

func (o Options) httpClient() *http.Client {
	tx := o.Transport
	if tx == nil {
		tx = http.DefaultTransport
	}
	return &http.Client{Transport: tx}
}

func (o Options) backOff() backoff.BackOff {
	if o.BackOff != nil {
		return o.BackOff()
	}
	return backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
	), defaultRetries)
}

// fetcher GETs JSON documents, retrying the requests that fail in a
// way that might not happen next time.
type fetcher struct {
	client  *http.Client
	header  http.Header
	logger  log.Logger
	backOff func() backoff.BackOff
}

func newFetcher(o Options) *fetcher {
	return &fetcher{
		client:  o.httpClient(),
		header:  http.Header{},
		logger:  o.logger(),
		backOff: o.backOff,
	}
}

func (f *fetcher) get(ctx context.Context, rawurl string) ([]byte, error) {
	op := func() ([]byte, error) {
		body, err := f.getOnce(ctx, rawurl)
		if rerr, ok := err.(*RequestError); ok && !rerr.Temporary() {
			return nil, backoff.Permanent(err)
		}
		return body, err
	}
	notify := func(err error, after time.Duration) {
		f.logger.Log("info", "retrying registry request", "url", rawurl, "err", err, "after", after)
	}
	return backoff.RetryNotifyWithData(op, backoff.WithContext(f.backOff(), ctx), notify)
}

func (f *fetcher) getOnce(ctx context.Context, rawurl string) ([]byte, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, backoff.Permanent(errors.Wrapf(err, "parsing registry URL %q", rawurl))
	}
	req, err := http.NewRequest(http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req = req.WithContext(ctx)
	for k, vs := range f.header {
		req.Header[k] = vs
	}
	req.Header.Set("Accept", "application/json")

	res, err := f.client.Do(req)
	if err != nil {
		return nil, &RequestError{Host: u.Host, URL: rawurl, Err: err}
	}
	defer res.Body.Close()

	body, err := ioutil.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, &RequestError{Host: u.Host, URL: rawurl, Err: errors.Wrap(err, "reading response")}
	}
	if res.StatusCode != http.StatusOK {
		return nil, &RequestError{Host: u.Host, URL: rawurl, StatusCode: res.StatusCode, Err: errors.Errorf("unexpected response %q", snippet(body))}
	}
	return body, nil
}

func snippet(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
