package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris/wattwise/internal/db"
)

type memStore struct {
	mu      sync.Mutex
	reports []db.Report
	alerts  []db.Alert
	err     error
	markErr error
}

func (m *memStore) SaveReport(ctx context.Context, r db.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.reports = append(m.reports, r)
	return nil
}

func (m *memStore) SaveAlert(ctx context.Context, a db.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *memStore) MarkAlertDelivered(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Delivered = true
			return nil
		}
	}
	return errors.New("alert not found")
}

type stubNotifier struct {
	sent []db.Alert
	err  error
}

func (s *stubNotifier) Notify(ctx context.Context, a db.Alert) error {
	s.sent = append(s.sent, a)
	return s.err
}

var fixedNow = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	r, err := NewEnergyRegistry(NewToolset(logger, opts...))
	require.NoError(t, err)
	return r
}

// roundTrip encodes a result the way the agent loop does and decodes it back.
func roundTrip(t *testing.T, v any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestEnergyCatalogOrder(t *testing.T) {
	r := newTestRegistry(t)
	var names []string
	for _, d := range r.List() {
		names = append(names, d.Name)
		assert.NotEmpty(t, d.Description)
	}
	assert.Equal(t, []string{"analyzeDataAnomaly", "generateInsights", "createReport", "sendAlert", "listDatasets"}, names)
}

func TestListDatasetsCountMatches(t *testing.T) {
	r := newTestRegistry(t)
	res, err := r.Dispatch(context.Background(), "listDatasets", map[string]any{})
	require.NoError(t, err)

	out := res.(*DatasetsResult)
	assert.True(t, out.Success)
	assert.Equal(t, len(out.Datasets), out.Count)
	assert.Equal(t, "2.5 MiB", out.Datasets[0].SizeHuman)
	assert.Equal(t, "15 MiB", out.Datasets[1].SizeHuman)
}

func TestAnalyzeDataAnomaly(t *testing.T) {
	r := newTestRegistry(t)
	res, err := r.Dispatch(context.Background(), "analyzeDataAnomaly", map[string]any{
		"datasetId": "x",
		"metric":    "energy_kwh",
	})
	require.NoError(t, err)

	out := res.(*AnomalyResult)
	assert.True(t, out.Success)
	assert.Equal(t, "energy_kwh", out.Metric)
	assert.Equal(t, "x", out.DatasetID)
	assert.Equal(t, len(out.Anomalies), out.AnomaliesFound)
	assert.Equal(t, 2.0, out.Threshold)
	assert.Equal(t, "Found 2 anomalies in energy_kwh data using 2σ threshold.", out.Summary)
}

func TestAnalyzeDataAnomalyThreshold(t *testing.T) {
	r := newTestRegistry(t)
	res, err := r.Dispatch(context.Background(), "analyzeDataAnomaly", map[string]any{
		"datasetId": "x", "metric": "co2_kg", "threshold": 2.5,
	})
	require.NoError(t, err)
	assert.Contains(t, res.(*AnomalyResult).Summary, "2.5σ")

	_, err = r.Dispatch(context.Background(), "analyzeDataAnomaly", map[string]any{
		"datasetId": "x", "metric": "co2_kg", "threshold": -1.0,
	})
	assert.ErrorContains(t, err, "threshold must be positive")

	_, err = r.Dispatch(context.Background(), "analyzeDataAnomaly", map[string]any{"datasetId": "x"})
	var invalid *InvalidArgumentsError
	assert.ErrorAs(t, err, &invalid)
}

func TestGenerateInsights(t *testing.T) {
	tests := []struct {
		focus  string
		count  int
		impact string
	}{
		{"efficiency", 2, "TBD"},
		{"cost", 2, "12% cost reduction"},
		{"emissions", 2, "200kg CO2/month"},
		{"all", 6, "TBD"},
	}
	r := newTestRegistry(t)
	for _, tt := range tests {
		t.Run(tt.focus, func(t *testing.T) {
			res, err := r.Dispatch(context.Background(), "generateInsights", map[string]any{
				"datasetId": "ds_001", "focus": tt.focus,
			})
			require.NoError(t, err)
			out := res.(*InsightsResult)
			assert.Equal(t, tt.focus, out.Focus)
			assert.Len(t, out.Insights, tt.count)
			assert.Equal(t, tt.impact, out.EstimatedImpact)
			assert.Equal(t, "high", out.Priority)
		})
	}

	_, err := r.Dispatch(context.Background(), "generateInsights", map[string]any{"datasetId": "d", "focus": "vibes"})
	var invalid *InvalidArgumentsError
	assert.ErrorAs(t, err, &invalid)
}

func TestCreateReportJSON(t *testing.T) {
	store := &memStore{}
	r := newTestRegistry(t, WithStore(store))

	res, err := r.Dispatch(context.Background(), "createReport", map[string]any{
		"datasetId": "ds_001", "includeAnomalies": true, "includeInsights": true, "format": "json",
	})
	require.NoError(t, err)

	out := res.(*ReportResult)
	assert.True(t, out.Success)
	assert.Equal(t, "json", out.Format)
	assert.True(t, strings.HasPrefix(out.ReportID, "report-"))
	assert.Equal(t, "/api/reports/"+out.ReportID, out.DownloadURL)

	decoded := roundTrip(t, out)
	data, ok := decoded["data"].(map[string]any)
	require.True(t, ok, "json format must carry an object")
	assert.Equal(t, "ds_001", data["datasetId"])
	assert.Equal(t, "2024-02-01T09:00:00.000Z", data["generatedAt"])
	assert.Len(t, data["anomalies"], 1)

	require.Len(t, store.reports, 1)
	assert.Equal(t, out.ReportID, store.reports[0].ID)
	assert.Equal(t, "json", store.reports[0].Format)
}

func TestCreateReportSummaryDefaults(t *testing.T) {
	r := newTestRegistry(t)

	res, err := r.Dispatch(context.Background(), "createReport", map[string]any{"datasetId": "ds_002"})
	require.NoError(t, err)

	out := res.(*ReportResult)
	assert.Equal(t, "summary", out.Format)
	text, ok := out.Data.(string)
	require.True(t, ok, "summary format must carry a string")

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &report))
	assert.Contains(t, report, "anomalies")
	assert.Contains(t, report, "insights")
	assert.Contains(t, text, "\n  \"datasetId\": \"ds_002\"")
}

func TestCreateReportOmitsExcludedSections(t *testing.T) {
	r := newTestRegistry(t)

	res, err := r.Dispatch(context.Background(), "createReport", map[string]any{
		"datasetId": "d", "includeAnomalies": false, "includeInsights": false, "format": "json",
	})
	require.NoError(t, err)
	data := roundTrip(t, res)["data"].(map[string]any)
	assert.NotContains(t, data, "anomalies")
	assert.NotContains(t, data, "insights")
}

func TestCreateReportStoreFailure(t *testing.T) {
	r := newTestRegistry(t, WithStore(&memStore{err: errors.New("disk full")}))

	_, err := r.Dispatch(context.Background(), "createReport", map[string]any{"datasetId": "d"})
	assert.ErrorContains(t, err, "disk full")
}

func TestSendAlertRecipients(t *testing.T) {
	store := &memStore{}
	r := newTestRegistry(t, WithStore(store))

	res, err := r.Dispatch(context.Background(), "sendAlert", map[string]any{
		"type": "anomaly", "severity": "high", "message": "m", "recipients": []any{"a@b.com"},
	})
	require.NoError(t, err)
	out := res.(*AlertResult)
	assert.Equal(t, []string{"a@b.com"}, out.Recipients)
	assert.True(t, strings.HasPrefix(out.AlertID, "alert-"))
	assert.Equal(t, "2024-02-01T09:00:00.000Z", out.SentAt)

	res, err = r.Dispatch(context.Background(), "sendAlert", map[string]any{
		"type": "report_ready", "severity": "low", "message": "done",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultAlertRecipient}, res.(*AlertResult).Recipients)

	require.Len(t, store.alerts, 2)
	assert.False(t, store.alerts[0].Delivered)
}

func TestSendAlertCustomDefaultRecipient(t *testing.T) {
	r := newTestRegistry(t, WithDefaultRecipient("ops@example.com"))

	res, err := r.Dispatch(context.Background(), "sendAlert", map[string]any{
		"type": "threshold_exceeded", "severity": "critical", "message": "over",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ops@example.com"}, res.(*AlertResult).Recipients)
}

func TestSendAlertNotifier(t *testing.T) {
	store := &memStore{}
	notifier := &stubNotifier{}
	r := newTestRegistry(t, WithStore(store), WithNotifier(notifier))

	_, err := r.Dispatch(context.Background(), "sendAlert", map[string]any{
		"type": "anomaly", "severity": "medium", "message": "check",
	})
	require.NoError(t, err)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "check", notifier.sent[0].Message)
	assert.True(t, store.alerts[0].Delivered)
}

func TestSendAlertNotifierFailureIsNotFatal(t *testing.T) {
	store := &memStore{}
	r := newTestRegistry(t, WithStore(store), WithNotifier(&stubNotifier{err: errors.New("webhook down")}))

	res, err := r.Dispatch(context.Background(), "sendAlert", map[string]any{
		"type": "anomaly", "severity": "high", "message": "m",
	})
	require.NoError(t, err)
	assert.True(t, res.(*AlertResult).Success)
	require.Len(t, store.alerts, 1)
	assert.False(t, store.alerts[0].Delivered)
}

func TestSendAlertRejectsBadSeverity(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Dispatch(context.Background(), "sendAlert", map[string]any{
		"type": "anomaly", "severity": "apocalyptic", "message": "m",
	})
	var invalid *InvalidArgumentsError
	assert.ErrorAs(t, err, &invalid)
}

func TestSendAlertStoreFailureSkipsDelivery(t *testing.T) {
	notifier := &stubNotifier{}
	r := newTestRegistry(t, WithStore(&memStore{err: errors.New("disk full")}), WithNotifier(notifier))

	_, err := r.Dispatch(context.Background(), "sendAlert", map[string]any{
		"type": "anomaly", "severity": "high", "message": "m",
	})
	assert.ErrorContains(t, err, "recording alert: disk full")
	assert.Empty(t, notifier.sent, "an alert that was not recorded must not go out")
}

func TestSendAlertMarkFailureStillSucceeds(t *testing.T) {
	store := &memStore{markErr: errors.New("database is locked")}
	notifier := &stubNotifier{}
	r := newTestRegistry(t, WithStore(store), WithNotifier(notifier))

	res, err := r.Dispatch(context.Background(), "sendAlert", map[string]any{
		"type": "threshold_exceeded", "severity": "critical", "message": "over",
	})
	require.NoError(t, err)
	assert.True(t, res.(*AlertResult).Success)
	assert.Len(t, notifier.sent, 1)
	require.Len(t, store.alerts, 1)
	assert.False(t, store.alerts[0].Delivered)
}

func TestSendAlertNotifierWithoutStore(t *testing.T) {
	notifier := &stubNotifier{}
	r := newTestRegistry(t, WithNotifier(notifier))

	_, err := r.Dispatch(context.Background(), "sendAlert", map[string]any{
		"type": "report_ready", "severity": "low", "message": "done",
	})
	require.NoError(t, err)
	assert.Len(t, notifier.sent, 1)
}
