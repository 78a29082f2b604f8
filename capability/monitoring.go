package capability

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// DatadogAdapter implements MonitoringMetrics against the Datadog API,
// grounded on original_source/backend/app/adapters/monitoring_adapter.py.
type DatadogAdapter struct {
	baseURL string
	headers map[string]string
	client  *http.Client
}

// NewDatadogAdapter constructs an adapter for the given Datadog site
// (default "datadoghq.com").
func NewDatadogAdapter(apiKey, appKey, site string) *DatadogAdapter {
	if site == "" {
		site = "datadoghq.com"
	}
	return &DatadogAdapter{
		baseURL: "https://api." + site + "/api/v1",
		headers: map[string]string{"DD-API-KEY": apiKey, "DD-APPLICATION-KEY": appKey},
		client:  defaultHTTPClient(),
	}
}

// TestConnection verifies the API/application key pair.
func (d *DatadogAdapter) TestConnection(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := doJSON(ctx, d.client, http.MethodGet, d.baseURL+"/validate", d.headers, nil, &out)
	return out, err
}

// ListAlertingMonitors implements MonitoringMetrics, returning only the
// monitors whose overall_state is "Alert".
func (d *DatadogAdapter) ListAlertingMonitors(ctx context.Context, tags []string) ([]map[string]any, error) {
	params := url.Values{}
	if len(tags) > 0 {
		params.Set("monitor_tags", strings.Join(tags, ","))
	}
	u := withQuery(d.baseURL+"/monitor", params)
	var all []map[string]any
	if err := doJSON(ctx, d.client, http.MethodGet, u, d.headers, nil, &all); err != nil {
		return nil, err
	}
	var out []map[string]any
	for _, m := range all {
		if state, _ := m["overall_state"].(string); state == "Alert" {
			out = append(out, m)
		}
	}
	return out, nil
}

// SentryAdapter implements MonitoringIssues against the Sentry API,
// grounded on the same monitoring_adapter.py.
type SentryAdapter struct {
	baseURL string
	headers map[string]string
	client  *http.Client
}

// NewSentryAdapter constructs an adapter for the given Sentry base URL
// (default self-hosted default of "https://sentry.io").
func NewSentryAdapter(token, baseURL string) *SentryAdapter {
	if baseURL == "" {
		baseURL = "https://sentry.io"
	}
	return &SentryAdapter{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/0",
		headers: map[string]string{"Authorization": "Bearer " + token},
		client:  defaultHTTPClient(),
	}
}

// TestConnection verifies the token by counting accessible organizations.
func (s *SentryAdapter) TestConnection(ctx context.Context) (map[string]any, error) {
	var orgs []map[string]any
	if err := doJSON(ctx, s.client, http.MethodGet, s.baseURL+"/organizations/", s.headers, nil, &orgs); err != nil {
		return nil, err
	}
	return map[string]any{"organizations": len(orgs)}, nil
}

// ListRecentUnresolved implements MonitoringIssues, returning unresolved
// issues first seen within the last hour.
func (s *SentryAdapter) ListRecentUnresolved(ctx context.Context, orgSlug, projectSlug string, limit int) ([]map[string]any, error) {
	params := url.Values{"query": {"is:unresolved firstSeen:-1h"}, "limit": {strconv.Itoa(limit)}}
	u := withQuery(s.baseURL+"/projects/"+orgSlug+"/"+projectSlug+"/issues/", params)
	var out []map[string]any
	err := doJSON(ctx, s.client, http.MethodGet, u, s.headers, nil, &out)
	return out, err
}
