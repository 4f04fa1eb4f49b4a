package equipment

import (
	"bytes"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/YuminosukeSato/equipml/core/model"
	"github.com/YuminosukeSato/equipml/pkg/errors"
)

// 高速化のため木の数を減らす
var fastOpts = []Option{WithEstimators(10)}

type typeProfile struct {
	name                            string
	flowrate, pressure, temperature float64
}

var profiles = []typeProfile{
	{"Pump", 120, 5.5, 110},
	{"Valve", 60, 4.2, 95},
	{"Compressor", 200, 8.9, 130},
	{"HeatExchanger", 150, 6.1, 160},
}

// makeRecords はタイプごとに perType 件のレコードを生成する（順序はタイプ間で交互）
func makeRecords(types []typeProfile, perType int, seed uint64) []Record {
	rng := rand.New(rand.NewPCG(seed, seed))
	var out []Record
	for k := 0; k < perType; k++ {
		for _, p := range types {
			out = append(out, Record{
				Name:        p.name + "-" + string(rune('A'+k%26)),
				Type:        p.name,
				Flowrate:    Float(p.flowrate + rng.NormFloat64()*5),
				Pressure:    Float(p.pressure + rng.NormFloat64()*0.3),
				Temperature: Float(p.temperature + rng.NormFloat64()*4),
			})
		}
	}
	return out
}

func TestCleanMedianFill(t *testing.T) {
	records := []Record{
		{Type: "Pump", Flowrate: Float(1), Pressure: Float(10), Temperature: nil},
		{Type: "Pump", Flowrate: nil, Pressure: Float(20), Temperature: Float(100)},
		{Type: "Valve", Flowrate: Float(3), Pressure: nil, Temperature: Float(200)},
		{Type: "Valve", Flowrate: Float(8), Pressure: Float(40), Temperature: Float(300)},
	}
	ds, err := Clean(records)
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if ds.Len() != 4 {
		t.Fatalf("Len() = %d, want 4 (no outlier removal for <= 5 rows)", ds.Len())
	}
	if ds.Rows[1].Flowrate != 3 { // median(1, 3, 8)
		t.Errorf("imputed flowrate = %v, want 3", ds.Rows[1].Flowrate)
	}
	if ds.Rows[2].Pressure != 20 { // median(10, 20, 40)
		t.Errorf("imputed pressure = %v, want 20", ds.Rows[2].Pressure)
	}
	if ds.Rows[0].Temperature != 200 {
		t.Errorf("imputed temperature = %v, want 200", ds.Rows[0].Temperature)
	}
	if ds.Imputed != 3 {
		t.Errorf("Imputed = %d, want 3", ds.Imputed)
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		in   []float64
		want float64
	}{
		{[]float64{3, 1, 2}, 2},
		{[]float64{4, 1, 3, 2}, 2.5},
		{[]float64{7}, 7},
	}
	for _, tt := range tests {
		if got := Median(tt.in); got != tt.want {
			t.Errorf("Median(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if !math.IsNaN(Median(nil)) {
		t.Error("Median(nil) should be NaN")
	}
}

func TestCleanOutlierRemoval(t *testing.T) {
	records := make([]Record, 20)
	for i := range records {
		records[i] = Record{
			Name:        fmt.Sprintf("P-%02d", i),
			Type:        "Pump",
			Flowrate:    Float(100 + float64(i%3)),
			Pressure:    Float(5),
			Temperature: Float(100 + float64(i%2)),
		}
	}
	records[7].Flowrate = Float(10000)

	ds, err := Clean(records)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Len() != 19 || ds.Dropped != 1 {
		t.Fatalf("Len() = %d, Dropped = %d; want 19, 1", ds.Len(), ds.Dropped)
	}
	for _, r := range ds.Rows {
		if r.Flowrate == 10000 {
			t.Error("outlier row was not removed")
		}
	}
	// 行の順序は保たれる
	if ds.Rows[7].Name != records[8].Name {
		t.Errorf("row order not preserved: got %s, want %s", ds.Rows[7].Name, records[8].Name)
	}
}

func TestCleanSkipsOutlierRemovalForSmallInput(t *testing.T) {
	records := makeRecords(profiles[:1], 5, 1)
	records[0].Flowrate = Float(1e9)

	ds, err := Clean(records)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Len() != 5 {
		t.Errorf("Len() = %d, want 5", ds.Len())
	}
}

func TestCleanIdempotent(t *testing.T) {
	ds, err := Clean(makeRecords(profiles, 5, 3))
	if err != nil {
		t.Fatal(err)
	}
	again, err := Clean(ds.Records())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ds.Rows, again.Rows) {
		t.Error("Clean() is not idempotent on a cleaned dataset")
	}
}

func TestCleanErrors(t *testing.T) {
	if _, err := Clean(nil); !errors.IsInsufficientData(err) {
		t.Errorf("Clean(nil) error = %v, want InsufficientDataError", err)
	}
	records := []Record{{Type: "Pump", Flowrate: Float(1), Pressure: Float(2)}}
	if _, err := Clean(records); !errors.IsInsufficientData(err) {
		t.Errorf("Clean() with empty column error = %v, want InsufficientDataError", err)
	}
}

func TestRecordsFromRaw(t *testing.T) {
	raw := []RawRecord{
		{"Equipment Name": "P-1", "Type": "Pump", "Flowrate": "120.5", "Pressure": 5, "Temperature": " 110 "},
		{"name": "V-1", "type": "Valve", "flowrate": "n/a", "pressure": "", "temperature": nil},
	}
	records, err := RecordsFromRaw(raw)
	if err != nil {
		t.Fatal(err)
	}
	r := records[0]
	if r.Name != "P-1" || r.Type != "Pump" || *r.Flowrate != 120.5 || *r.Pressure != 5 || *r.Temperature != 110 {
		t.Errorf("records[0] = %+v", r)
	}
	r = records[1]
	if r.Name != "V-1" || r.Type != "Valve" || r.Flowrate != nil || r.Pressure != nil || r.Temperature != nil {
		t.Errorf("records[1] = %+v", r)
	}

	if _, err := RecordsFromRaw([]RawRecord{{"Flowrate": 1}}); err == nil {
		t.Error("record without type should fail")
	}
}

func TestTrainRegression(t *testing.T) {
	ds, err := Clean(makeRecords(profiles, 10, 5))
	if err != nil {
		t.Fatal(err)
	}
	res, err := TrainRegression(ds, fastOpts...)
	if err != nil {
		t.Fatalf("TrainRegression() error = %v", err)
	}

	m := res.Metrics
	n := ds.Len()
	if m.TrainingSamples+m.TestSamples != n || m.TotalSamples != n {
		t.Errorf("train %d + test %d != total %d", m.TrainingSamples, m.TestSamples, n)
	}
	if want := int(math.Ceil(0.2 * float64(n))); m.TestSamples != want {
		t.Errorf("TestSamples = %d, want %d", m.TestSamples, want)
	}
	if !reflect.DeepEqual(m.EquipmentTypes, []string{"Compressor", "HeatExchanger", "Pump", "Valve"}) {
		t.Errorf("EquipmentTypes = %v", m.EquipmentTypes)
	}

	for _, target := range Targets {
		tm := m.Target(target)
		if len(tm.CandidateScores) != 3 {
			t.Fatalf("%s: CandidateScores = %v", target, tm.CandidateScores)
		}
		// 採用されたモデルのR²は全候補以上
		for name, s := range tm.CandidateScores {
			if tm.R2 < s {
				t.Errorf("%s: winner %s R2 %v < candidate %s R2 %v", target, tm.Model, tm.R2, name, s)
			}
		}
		if tm.CandidateScores[tm.Model] != tm.R2 {
			t.Errorf("%s: winner score mismatch", target)
		}
		if math.Abs(tm.RMSE-math.Sqrt(tm.MSE)) > 1e-12 {
			t.Errorf("%s: RMSE != sqrt(MSE)", target)
		}
		if model.NameOf(res.Models[target]) != tm.Model {
			t.Errorf("%s: model %s != recorded %s", target, model.NameOf(res.Models[target]), tm.Model)
		}
	}
}

func TestTrainRegressionWithDecisionTree(t *testing.T) {
	ds, err := Clean(makeRecords(profiles, 10, 5))
	if err != nil {
		t.Fatal(err)
	}
	res, err := TrainRegression(ds, append(fastOpts, WithDecisionTree(true))...)
	if err != nil {
		t.Fatalf("TrainRegression() error = %v", err)
	}
	for _, target := range Targets {
		tm := res.Metrics.Target(target)
		if len(tm.CandidateScores) != 4 {
			t.Fatalf("%s: CandidateScores = %v, want 4 candidates", target, tm.CandidateScores)
		}
		if _, ok := tm.CandidateScores["DecisionTreeRegressor"]; !ok {
			t.Errorf("%s: DecisionTreeRegressor not evaluated", target)
		}
		for name, s := range tm.CandidateScores {
			if tm.R2 < s {
				t.Errorf("%s: winner %s R2 %v < candidate %s R2 %v", target, tm.Model, tm.R2, name, s)
			}
		}
	}
}

func TestTrainRegressionInsufficientData(t *testing.T) {
	ds := CleanedDataset{Rows: []Row{{Type: "Pump", Flowrate: 1, Pressure: 1, Temperature: 1}}}
	if _, err := TrainRegression(ds); !errors.IsInsufficientData(err) {
		t.Errorf("TrainRegression() error = %v, want InsufficientDataError", err)
	}
	if _, err := TrainClassification(ds); !errors.IsInsufficientData(err) {
		t.Errorf("TrainClassification() error = %v, want InsufficientDataError", err)
	}
}

func TestTrainClassificationStratified(t *testing.T) {
	ds, err := Clean(makeRecords(profiles, 10, 9))
	if err != nil {
		t.Fatal(err)
	}
	res, err := TrainClassification(ds, fastOpts...)
	if err != nil {
		t.Fatalf("TrainClassification() error = %v", err)
	}
	if !res.Metrics.Stratified {
		t.Error("expected stratified split")
	}
	assertConfusionMatrix(t, res.Metrics)
	if res.Metrics.Accuracy < 0.5 {
		t.Errorf("Accuracy = %v, separable clusters should classify well", res.Metrics.Accuracy)
	}
}

func TestTrainClassificationStratifyFallback(t *testing.T) {
	records := makeRecords(profiles[:2], 10, 2)
	records = append(records, Record{Name: "R-1", Type: "Reactor", Flowrate: Float(90), Pressure: Float(5), Temperature: Float(120)})

	ds, err := Clean(records)
	if err != nil {
		t.Fatal(err)
	}
	res, err := TrainClassification(ds, fastOpts...)
	if err != nil {
		t.Fatalf("TrainClassification() with a singleton class error = %v", err)
	}
	if res.Metrics.Stratified {
		t.Error("expected non-stratified fallback split")
	}
	if res.Metrics.TrainingSamples+res.Metrics.TestSamples != ds.Len() {
		t.Error("split does not cover the dataset")
	}
	assertConfusionMatrix(t, res.Metrics)
}

func assertConfusionMatrix(t *testing.T, m ClassificationMetrics) {
	t.Helper()
	k := len(m.ConfusionLabels)
	if len(m.ConfusionMatrix) != k {
		t.Fatalf("confusion matrix has %d rows, want %d", len(m.ConfusionMatrix), k)
	}
	total := 0
	for _, row := range m.ConfusionMatrix {
		if len(row) != k {
			t.Fatalf("confusion matrix row has %d columns, want %d", len(row), k)
		}
		for _, v := range row {
			if v < 0 {
				t.Fatal("negative confusion matrix entry")
			}
			total += v
		}
	}
	if total != m.TestSamples {
		t.Errorf("confusion matrix sums to %d, want %d", total, m.TestSamples)
	}
}

func TestTrainInsufficientData(t *testing.T) {
	bundle, _, err := Train(makeRecords(profiles[:1], 5, 1), fastOpts...)
	if !errors.IsInsufficientData(err) {
		t.Fatalf("Train(5 records) error = %v, want InsufficientDataError", err)
	}
	if bundle != nil {
		t.Error("no bundle should be returned on failure")
	}
}

func trainBundle(t *testing.T, types []typeProfile) (*Bundle, CombinedMetrics) {
	t.Helper()
	bundle, cm, err := Train(makeRecords(types, 10, 4), fastOpts...)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	return bundle, cm
}

func TestTrain(t *testing.T) {
	bundle, cm := trainBundle(t, profiles)

	if !bundle.Trained || bundle.FormatVersion != BundleFormatVersion {
		t.Errorf("Trained = %v, FormatVersion = %d", bundle.Trained, bundle.FormatVersion)
	}
	if cm.Status != StatusSuccess {
		t.Errorf("Status = %q", cm.Status)
	}
	if bundle.History.Regression == nil || bundle.History.Classification == nil {
		t.Fatal("training history not recorded")
	}
	// 分類で学習したエンコーダーがバンドルに残る
	if !reflect.DeepEqual(bundle.Encoder.Classes(), cm.Classification.EquipmentTypes) {
		t.Errorf("encoder classes = %v", bundle.Encoder.Classes())
	}
	for _, label := range bundle.Encoder.Classes() {
		code, err := bundle.Encoder.Encode(label)
		if err != nil {
			t.Fatal(err)
		}
		back, _ := bundle.Encoder.Decode(code)
		if back != label {
			t.Errorf("Decode(Encode(%q)) = %q", label, back)
		}
	}

	flat := cm.Flatten()
	for _, key := range []string{"training_samples", "test_samples", "total_samples", "equipment_types", "flowrate", "pressure", "temperature", "classification"} {
		if _, ok := flat[key]; !ok {
			t.Errorf("Flatten() missing key %q", key)
		}
	}
}

func TestPredict(t *testing.T) {
	bundle, _ := trainBundle(t, profiles)

	p, err := bundle.Predict("Compressor")
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if p.FallbackEncoding {
		t.Error("known type should not use fallback encoding")
	}
	if p.EquipmentType != "Compressor" {
		t.Errorf("EquipmentType = %q", p.EquipmentType)
	}
	for _, v := range []float64{p.PredictedFlowrate, p.PredictedPressure, p.PredictedTemperature} {
		if v != Round2(v) {
			t.Errorf("prediction %v is not rounded to 2 decimals", v)
		}
	}

	tp, err := bundle.PredictType(200, 8.9, 130)
	if err != nil {
		t.Fatalf("PredictType() error = %v", err)
	}
	if tp.PredictedType != "Compressor" {
		t.Errorf("PredictedType = %q, want Compressor", tp.PredictedType)
	}
	if tp.Confidence <= 0 || tp.Confidence > 100 {
		t.Errorf("Confidence = %v", tp.Confidence)
	}
	if tp.InputParameters.Pressure != 8.9 {
		t.Errorf("InputParameters = %+v", tp.InputParameters)
	}
}

func TestPredictUnseenTypeFallback(t *testing.T) {
	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(nil)

	bundle, _ := trainBundle(t, profiles[:2]) // Pump, Valve

	p, err := bundle.Predict("Reactor")
	if err != nil {
		t.Fatalf("Predict(unseen) error = %v", err)
	}
	if !p.FallbackEncoding {
		t.Error("FallbackEncoding = false, want true")
	}
	// コード0（ソート順で先頭の Pump）と同じ予測になる
	pump, err := bundle.Predict("Pump")
	if err != nil {
		t.Fatal(err)
	}
	if p.PredictedFlowrate != pump.PredictedFlowrate || p.PredictedTemperature != pump.PredictedTemperature {
		t.Errorf("fallback prediction %+v differs from code-0 prediction %+v", p, pump)
	}

	var w *errors.UnknownLabelWarning
	found := false
	for _, warn := range warnings {
		if errors.As(warn, &w) && w.Label == "Reactor" {
			found = true
		}
	}
	if !found {
		t.Error("UnknownLabelWarning was not emitted")
	}
}

func TestNotTrained(t *testing.T) {
	b := &Bundle{}
	if _, err := b.Predict("Pump"); !errors.IsNotFitted(err) {
		t.Errorf("Predict() error = %v, want not trained", err)
	}
	if _, err := b.PredictType(1, 2, 3); !errors.IsNotFitted(err) {
		t.Errorf("PredictType() error = %v, want not trained", err)
	}
	if _, err := b.FeatureImportance(); !errors.IsNotFitted(err) {
		t.Errorf("FeatureImportance() error = %v, want not trained", err)
	}
	if err := Save(b, filepath.Join(t.TempDir(), "x.gob")); !errors.IsNotFitted(err) {
		t.Errorf("Save() error = %v, want not trained", err)
	}
}

func TestFeatureImportance(t *testing.T) {
	bundle, _ := trainBundle(t, profiles)

	imp, err := bundle.FeatureImportance()
	if err != nil {
		t.Fatal(err)
	}
	for _, target := range Targets {
		_, hasNative := bundle.Regressor(target).(model.FeatureImporter)
		got, ok := imp[target]
		if ok != hasNative {
			t.Errorf("%s: present = %v, model exposes importances = %v", target, ok, hasNative)
		}
		if ok && (!reflect.DeepEqual(got.Features, []string{"Type_Encoded"}) || len(got.Importance) != 1) {
			t.Errorf("%s: %+v", target, got)
		}
	}
	cls, ok := imp["classification"]
	if !ok {
		t.Fatal("classification importance missing")
	}
	if !reflect.DeepEqual(cls.Features, []string{"Flowrate", "Pressure", "Temperature"}) || len(cls.Importance) != 3 {
		t.Errorf("classification importance = %+v", cls)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	bundle, _ := trainBundle(t, profiles)
	path := filepath.Join(t.TempDir(), "ml_models", "model_user_1.gob")

	if err := Save(bundle, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	for _, typ := range []string{"Pump", "Valve", "Compressor", "HeatExchanger", "Reactor"} {
		want, _ := bundle.Predict(typ)
		got, err := loaded.Predict(typ)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("Predict(%q) after reload = %+v, want %+v", typ, got, want)
		}
	}
	want, _ := bundle.PredictType(120, 5.5, 110)
	got, err := loaded.PredictType(120, 5.5, 110)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("PredictType() after reload = %+v, want %+v", got, want)
	}
	if !reflect.DeepEqual(loaded.History, bundle.History) {
		t.Error("training history differs after reload")
	}
	if !loaded.CreatedAt.Equal(bundle.CreatedAt) {
		t.Error("CreatedAt differs after reload")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.gob"))
	if !errors.IsNotFound(err) {
		t.Errorf("Load(missing) error = %v, want not found", err)
	}
	var pe *errors.PersistenceError
	if !errors.As(err, &pe) {
		t.Errorf("Load(missing) error = %T, want *PersistenceError", err)
	}
}

func TestDecodeBundleDefaults(t *testing.T) {
	// 古い形式: スケーラー・特徴量名・バージョンなし
	old := &Bundle{Trained: true}
	var buf bytes.Buffer
	if err := old.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	b, err := DecodeBundle(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if b.RegressionScaler == nil || b.ClassificationScaler == nil || b.Encoder == nil {
		t.Error("missing scalers/encoder should default to empty ones")
	}
	if !reflect.DeepEqual(b.FeatureNames, []string{"Type_Encoded"}) {
		t.Errorf("FeatureNames = %v", b.FeatureNames)
	}
	if b.FormatVersion != 0 || b.History.Regression != nil {
		t.Errorf("FormatVersion = %d, History = %+v", b.FormatVersion, b.History)
	}
}
