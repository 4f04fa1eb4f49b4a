package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/YuminosukeSato/equipml/equipment"
	"github.com/YuminosukeSato/equipml/internal/history"
	"github.com/YuminosukeSato/equipml/internal/service"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/YuminosukeSato/equipml/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := history.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	ledger, err := history.NewLedger(db)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := service.NewMetrics(reg)
	fs := store.NewFileStore(t.TempDir())
	trainer := service.NewTrainer(fs, ledger, metrics, service.TrainerConfig{
		Timeout:    time.Minute,
		MinSamples: 10,
		Options:    []equipment.Option{equipment.WithEstimators(5)},
	})

	srv := New(Deps{
		Trainer:   trainer,
		Predictor: service.NewPredictor(store.NewCachedLoader(fs), ledger, metrics),
		Uploader:  service.NewUploader(ledger, trainer, service.DefaultDatasetHistory),
		Records:   ledger,
		Runs:      ledger,
		Datasets:  ledger,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func csvBody(perType int) string {
	var b strings.Builder
	b.WriteString("Equipment Name,Type,Flowrate,Pressure,Temperature\n")
	for i := 0; i < perType; i++ {
		d := float64(i%5) - 2
		fmt.Fprintf(&b, "P-%d,Pump,%g,%g,%g\n", i, 120+d, 5.5+d/10, 110+d)
		fmt.Fprintf(&b, "V-%d,Valve,%g,%g,%g\n", i, 60+d, 4.2+d/10, 95+d)
	}
	return b.String()
}

func rawRecords(perType int) []map[string]any {
	var out []map[string]any
	for i := 0; i < perType; i++ {
		d := float64(i%5) - 2
		out = append(out,
			map[string]any{"Equipment Name": fmt.Sprintf("P-%d", i), "Type": "Pump", "Flowrate": 120 + d, "Pressure": 5.5 + d/10, "Temperature": 110 + d},
			map[string]any{"Equipment Name": fmt.Sprintf("V-%d", i), "Type": "Valve", "Flowrate": 60 + d, "Pressure": 4.2 + d/10, "Temperature": 95 + d},
		)
	}
	return out
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode(t, resp)["status"])

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTrainAndPredict(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/api/users/1"

	resp, body := postJSON(t, base+"/predict", map[string]any{"equipment_type": "Pump"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, body)

	resp, body = postJSON(t, base+"/train", map[string]any{"records": rawRecords(10)})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	metrics := body["metrics"].(map[string]any)
	assert.Equal(t, "success", metrics["status"])

	resp, body = postJSON(t, base+"/predict", map[string]any{"equipment_type": "Pump"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Pump", body["equipment_type"])
	assert.Equal(t, false, body["fallback_encoding"])
	assert.Contains(t, body, "metrics")

	resp, body = postJSON(t, base+"/predict", map[string]any{"equipment_type": "Reactor"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["fallback_encoding"])

	resp, body = postJSON(t, base+"/predict-type", map[string]any{"flowrate": 60, "pressure": 4.2, "temperature": 95})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Valve", body["predicted_type"])

	resp, err := http.Get(base + "/feature-importance")
	require.NoError(t, err)
	body = decode(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "classification")

	resp, err = http.Get(base + "/predictions")
	require.NoError(t, err)
	body = decode(t, resp)
	assert.EqualValues(t, 2, body["total_types"])

	resp, err = http.Get(base + "/runs?limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	var runs []history.TrainingRun
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, history.StatusSuccess, runs[0].Status)
}

func TestValidationErrors(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/api/users/1"

	tests := []struct {
		name string
		path string
		body any
	}{
		{"too few records", "/train", map[string]any{"records": rawRecords(2)}},
		{"no stored records", "/train", map[string]any{}},
		{"missing type", "/predict", map[string]any{}},
		{"missing parameters", "/predict-type", map[string]any{"flowrate": 1}},
		{"record without type", "/train", map[string]any{"records": []map[string]any{{"Flowrate": 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, base+tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
			assert.NotEmpty(t, body["error"])
		})
	}

	resp, body := postJSON(t, ts.URL+"/api/users/abc/predict", map[string]any{"equipment_type": "Pump"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
}

func TestUploadDataset(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/api/users/2"

	resp, err := http.Post(base+"/datasets?name=a.csv", "text/csv", strings.NewReader("Type,Flowrate\nPump,1\n"))
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "Pressure")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "plant.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(csvBody(10)))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err = http.Post(base+"/datasets", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	body = decode(t, resp)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, true, body["ml_trained"])
	summary := body["summary"].(map[string]any)
	assert.EqualValues(t, 20, summary["count"])
	assert.Equal(t, "plant.csv", body["dataset"].(map[string]any)["name"])

	// 保存済みデータセットで再学習できる
	resp, body = postJSON(t, base+"/train", map[string]any{})
	assert.Equal(t, http.StatusOK, resp.StatusCode, body)
}

func uploadCSV(t *testing.T, url, name, body string) map[string]any {
	t.Helper()
	resp, err := http.Post(url+"/datasets?name="+name, "text/csv", strings.NewReader(body))
	require.NoError(t, err)
	out := decode(t, resp)
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	return out
}

func TestDatasetHistoryRoutes(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/api/users/3"

	var ids []string
	for i := 0; i < 7; i++ {
		body := uploadCSV(t, base, fmt.Sprintf("upload-%d.csv", i), csvBody(2))
		ids = append(ids, body["dataset"].(map[string]any)["id"].(string))
	}

	resp, err := http.Get(base + "/datasets")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []history.Dataset
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	require.Len(t, listed, 5)
	assert.Equal(t, "upload-6.csv", listed[0].Name)
	assert.Equal(t, "upload-2.csv", listed[4].Name)

	resp, err = http.Get(base + "/datasets?limit=2")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	assert.Len(t, listed, 2)

	// 古いデータセットはアップロード時に削除されている
	resp, err = http.Get(base + "/datasets/" + ids[0])
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(base + "/datasets/" + ids[6])
	require.NoError(t, err)
	body := decode(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "upload-6.csv", body["name"])
	assert.Len(t, body["raw_data"], 4)

	resp, err = http.Get(ts.URL + "/api/users/4/datasets/" + ids[6])
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "datasets are scoped to their user")
	resp.Body.Close()
}

func TestDeleteDataset(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/api/users/5"
	id := uploadCSV(t, base, "plant.csv", csvBody(2))["dataset"].(map[string]any)["id"].(string)

	del := func() *http.Response {
		req, err := http.NewRequest(http.MethodDelete, base+"/datasets/"+id, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := del()
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = del()
	body := decode(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestPredictionsBeforeTraining(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/users/9/predictions")
	require.NoError(t, err)
	body := decode(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, service.NotTrainedMessage, body["message"])
	assert.EqualValues(t, 0, body["total_types"])
	assert.Empty(t, body["predictions"])
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.NewInsufficientDataError("Train", 10, 3), http.StatusBadRequest},
		{errors.NewValidationError("x", "bad", 1), http.StatusBadRequest},
		{errors.NewNotTrainedError("Predict"), http.StatusNotFound},
		{errors.NewPersistenceError("load", "k", errors.Mark(errors.New("gone"), errors.ErrNotFound)), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusOf(tt.err), tt.err.Error())
	}
}
