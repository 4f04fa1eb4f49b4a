// Standard attribute keys for equipml log records.
//
// Keys follow a hierarchical naming convention (e.g. "model.name",
// "data.samples") so that records from the training pipeline, the stores and
// the HTTP layer can be filtered consistently.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of machine learning model.
	// Examples: "RandomForestRegressor", "StandardScaler", "LinearRegression"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	OperationKey = "ml.operation"

	// ComponentKey identifies which component is logging.
	// Examples: "equipment", "store", "service"
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of model lifecycle.
	PhaseKey = "ml.phase"

	// TargetKey names the regression target ("flowrate", "pressure", "temperature").
	TargetKey = "ml.target"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// DroppedKey counts rows removed during cleaning or datasets pruned on upload.
	DroppedKey = "data.dropped"

	// ClassesKey lists the distinct equipment types seen.
	ClassesKey = "data.classes"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// AccuracyKey records classification accuracy on the test split.
	AccuracyKey = "metrics.accuracy"

	// R2ScoreKey records R² coefficient of determination for regression.
	R2ScoreKey = "metrics.r2_score"

	// ConfidenceKey records prediction confidence in percent.
	ConfidenceKey = "preds.confidence"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Domain Context
const (
	// UserIDKey identifies the user whose bundle is being trained or served.
	UserIDKey = "user.id"

	// EquipmentTypeKey records the equipment type of a prediction request.
	EquipmentTypeKey = "equipment.type"

	// BundleKey is the storage key of a model bundle.
	BundleKey = "bundle.key"

	// RunIDKey identifies a training run in the history ledger.
	RunIDKey = "run.id"
)

// Error Context
const (
	// ErrorKey holds the error value; see Logger.Error.
	ErrorKey = "error"

	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// StacktraceKey contains stack trace information for debugging.
	StacktraceKey = "error.stacktrace"
)

// Standard attribute values.
const (
	OperationFit         = "fit"
	OperationPredict     = "predict"
	OperationPredictType = "predict_type"
	OperationTransform   = "transform"
	OperationClean       = "clean"
	OperationSave        = "save"
	OperationLoad        = "load"
	OperationImportance  = "feature_importance"

	PhaseTraining      = "training"
	PhaseTesting       = "testing"
	PhaseInference     = "inference"
	PhasePreprocessing = "preprocessing"
)
