package equipment

import (
	"time"

	"github.com/YuminosukeSato/equipml/core/model"
	"github.com/YuminosukeSato/equipml/ensemble"
	"github.com/YuminosukeSato/equipml/metrics"
	"github.com/YuminosukeSato/equipml/modelselection"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/YuminosukeSato/equipml/pkg/log"
	"github.com/YuminosukeSato/equipml/preprocessing"
	"gonum.org/v1/gonum/mat"
)

// TargetMetrics は1つの目的変数についての勝者モデルのテスト分割上の評価
type TargetMetrics struct {
	R2   float64 `json:"r2_score"`
	MSE  float64 `json:"mse"`
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`

	// Model は選ばれたアルゴリズム名
	Model string `json:"model"`
	// CandidateScores は全候補のテストR²（選択には影響しない）
	CandidateScores map[string]float64 `json:"candidate_scores"`
}

// RegressionMetrics は回帰学習のメトリクス
type RegressionMetrics struct {
	Flowrate    TargetMetrics `json:"flowrate"`
	Pressure    TargetMetrics `json:"pressure"`
	Temperature TargetMetrics `json:"temperature"`

	TrainingSamples int      `json:"training_samples"`
	TestSamples     int      `json:"test_samples"`
	TotalSamples    int      `json:"total_samples"`
	EquipmentTypes  []string `json:"equipment_types"`
}

// Target は目的変数名に対応するメトリクスを返す
func (m *RegressionMetrics) Target(name string) *TargetMetrics {
	switch name {
	case TargetFlowrate:
		return &m.Flowrate
	case TargetPressure:
		return &m.Pressure
	case TargetTemperature:
		return &m.Temperature
	}
	return nil
}

// ClassificationMetrics は分類学習のメトリクス
type ClassificationMetrics struct {
	Accuracy        float64  `json:"accuracy"`
	TrainingSamples int      `json:"training_samples"`
	TestSamples     int      `json:"test_samples"`
	EquipmentTypes  []string `json:"equipment_types"`

	// ConfusionMatrix の行は正解、列は予測。並びは ConfusionLabels（コード順）
	ConfusionMatrix [][]int  `json:"confusion_matrix"`
	ConfusionLabels []string `json:"confusion_labels"`
	Stratified      bool     `json:"stratified"`
}

// RegressionResult は TrainRegression の学習結果
type RegressionResult struct {
	Encoder *preprocessing.LabelEncoder
	Scaler  *preprocessing.StandardScaler
	Models  map[string]model.Regressor
	Metrics RegressionMetrics
}

// ClassificationResult は TrainClassification の学習結果
type ClassificationResult struct {
	Encoder    *preprocessing.LabelEncoder
	Scaler     *preprocessing.StandardScaler
	Classifier *ensemble.RandomForestClassifier
	Metrics    ClassificationMetrics
}

// TrainRegression は設備タイプ（エンコード済み）から流量・圧力・温度を予測する回帰モデルを学習する
//
// 目的変数ごとに候補（ランダムフォレスト、勾配ブースティング、線形回帰）をこの順に学習し、
// テスト分割のR²が厳密に大きいものを採用する。行数が2未満なら InsufficientDataError。
func TrainRegression(ds CleanedDataset, opts ...Option) (res *RegressionResult, err error) {
	defer errors.RecoverFit(&err, "TrainRegression")
	cfg := newTrainConfig(opts)
	logger := log.GetLoggerWithName("equipment").With(log.PhaseKey, log.PhaseTraining)
	start := time.Now()

	n := ds.Len()
	if n < 2 {
		return nil, errors.NewInsufficientDataError("TrainRegression", 2, n)
	}

	encoder := preprocessing.NewLabelEncoder()
	codes, err := encoder.FitTransform(ds.Types())
	if err != nil {
		return nil, err
	}
	X := mat.NewDense(n, 1, nil)
	for i, c := range codes {
		X.Set(i, 0, float64(c))
	}

	split, err := modelselection.TrainTestSplit(n, cfg.testSize, cfg.seed, nil)
	if err != nil {
		return nil, err
	}
	scaler := preprocessing.NewStandardScaler()
	XTrain, err := scaler.FitTransform(modelselection.Rows(X, split.Train))
	if err != nil {
		return nil, err
	}
	XTest, err := scaler.Transform(modelselection.Rows(X, split.Test))
	if err != nil {
		return nil, err
	}

	res = &RegressionResult{
		Encoder: encoder,
		Scaler:  scaler,
		Models:  make(map[string]model.Regressor, len(Targets)),
		Metrics: RegressionMetrics{
			TrainingSamples: len(split.Train),
			TestSamples:     len(split.Test),
			TotalSamples:    n,
			EquipmentTypes:  encoder.Classes(),
		},
	}

	for _, target := range Targets {
		col := ds.Column(target)
		yTrain := mat.NewDense(len(split.Train), 1, modelselection.Take(col, split.Train))
		yTest := mat.NewVecDense(len(split.Test), modelselection.Take(col, split.Test))

		winner, tm, err := selectRegressor(cfg, target, XTrain, yTrain, XTest, yTest)
		if err != nil {
			return nil, err
		}
		res.Models[target] = winner
		*res.Metrics.Target(target) = tm

		logger.Info("regression model selected",
			log.OperationKey, log.OperationFit,
			log.TargetKey, target,
			log.ModelNameKey, tm.Model,
			log.R2ScoreKey, tm.R2,
		)
	}

	logger.Debug("regression training completed",
		log.SamplesKey, n,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return res, nil
}

// selectRegressor は候補を学習・評価して勝者とそのテストメトリクスを返す
func selectRegressor(cfg trainConfig, target string, XTrain, yTrain mat.Matrix, XTest mat.Matrix, yTest *mat.VecDense) (model.Regressor, TargetMetrics, error) {
	candidates := cfg.regressionCandidates()
	fitted := make([]model.Regressor, len(candidates))
	predictions := make([]*mat.VecDense, len(candidates))

	best, scores, err := modelselection.SelectBest(indexes(len(candidates)), func(i int) (float64, error) {
		m := candidates[i].new()
		if err := m.Fit(XTrain, yTrain); err != nil {
			return 0, errors.NewModelFitError(candidates[i].name+"("+target+")", err)
		}
		pred, err := m.Predict(XTest)
		if err != nil {
			return 0, err
		}
		fitted[i] = m
		predictions[i] = metrics.ColumnVector(pred)
		return metrics.R2Score(yTest, predictions[i])
	})
	if err != nil {
		return nil, TargetMetrics{}, err
	}

	report, err := metrics.EvaluateRegression(yTest, predictions[best])
	if err != nil {
		return nil, TargetMetrics{}, err
	}
	candidateScores := make(map[string]float64, len(candidates))
	for i, c := range candidates {
		candidateScores[c.name] = scores[i]
	}
	return fitted[best], TargetMetrics{
		R2:              report.R2,
		MSE:             report.MSE,
		MAE:             report.MAE,
		RMSE:            report.RMSE,
		Model:           candidates[best].name,
		CandidateScores: candidateScores,
	}, nil
}

func indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// TrainClassification は流量・圧力・温度から設備タイプを予測する分類器を学習する
//
// 全クラスが2件以上あり層化が可能なら層化分割、そうでなければ通常の分割を使う。
func TrainClassification(ds CleanedDataset, opts ...Option) (res *ClassificationResult, err error) {
	defer errors.RecoverFit(&err, "TrainClassification")
	cfg := newTrainConfig(opts)
	logger := log.GetLoggerWithName("equipment").With(log.PhaseKey, log.PhaseTraining)

	n := ds.Len()
	if n < 2 {
		return nil, errors.NewInsufficientDataError("TrainClassification", 2, n)
	}

	encoder := preprocessing.NewLabelEncoder()
	codes, err := encoder.FitTransform(ds.Types())
	if err != nil {
		return nil, err
	}
	X := mat.NewDense(n, 3, nil)
	y := make([]float64, n)
	for i, r := range ds.Rows {
		X.SetRow(i, []float64{r.Flowrate, r.Pressure, r.Temperature})
		y[i] = float64(codes[i])
	}

	split, err := modelselection.TrainTestSplit(n, cfg.testSize, cfg.seed, codes)
	if err != nil {
		return nil, err
	}
	scaler := preprocessing.NewStandardScaler()
	XTrain, err := scaler.FitTransform(modelselection.Rows(X, split.Train))
	if err != nil {
		return nil, err
	}
	XTest, err := scaler.Transform(modelselection.Rows(X, split.Test))
	if err != nil {
		return nil, err
	}

	clf := ensemble.NewRandomForestClassifier(cfg.nEstimators, cfg.maxDepth, cfg.seed)
	yTrain := mat.NewDense(len(split.Train), 1, modelselection.Take(y, split.Train))
	if err := clf.Fit(XTrain, yTrain); err != nil {
		return nil, errors.NewModelFitError("RandomForestClassifier", err)
	}
	pred, err := clf.Predict(XTest)
	if err != nil {
		return nil, err
	}

	yTrue := modelselection.Take(codes, split.Test)
	yPred := make([]int, len(yTrue))
	for i := range yPred {
		yPred[i] = int(pred.At(i, 0))
	}
	acc, err := metrics.Accuracy(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	cm, labelCodes, err := metrics.ConfusionMatrix(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	labels := make([]string, len(labelCodes))
	for i, c := range labelCodes {
		if labels[i], err = encoder.Decode(c); err != nil {
			return nil, err
		}
	}

	logger.Info("type classifier trained",
		log.OperationKey, log.OperationFit,
		log.ModelNameKey, clf.Name(),
		log.AccuracyKey, acc,
		log.ClassesKey, encoder.NClasses(),
		"stratified", split.Stratified,
	)

	return &ClassificationResult{
		Encoder:    encoder,
		Scaler:     scaler,
		Classifier: clf,
		Metrics: ClassificationMetrics{
			Accuracy:        acc,
			TrainingSamples: len(split.Train),
			TestSamples:     len(split.Test),
			EquipmentTypes:  encoder.Classes(),
			ConfusionMatrix: cm,
			ConfusionLabels: labels,
			Stratified:      split.Stratified,
		},
	}, nil
}
