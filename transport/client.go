package transport

import (
	"fmt"
	"runtime"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
)

// newHTTPClient builds the resty client used for all delivery. The underlying
// round-tripper comes from retryablehttp's pooled transport; retry policy
// itself lives in resty so that the retry hook can feed the metrics.
func newHTTPClient(cfg Config, metrics *Metrics) *resty.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.Logger = nil

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", fmt.Sprintf("%s/%s (%s)", sdkName, sdkVersion, runtime.Version())).
		SetAuthToken(cfg.APIKey).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryWaitMin).
		SetRetryMaxWaitTime(cfg.RetryWaitMax).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r == nil || !r.IsSuccess()
		}).
		AddRetryHook(func(_ *resty.Response, _ error) {
			metrics.SendRetries.Inc()
		})

	client.SetTransport(retryClient.HTTPClient.Transport)

	return client
}
