// Package equipml trains and serves per-user models for chemical process
// equipment data.
//
// Each user uploads CSV files describing equipment (name, type, flowrate,
// pressure, temperature). equipml cleans the records, then trains a bundle
// holding three regressors that predict the operating parameters of an
// equipment type, and one classifier that predicts the type from the
// parameters. Bundles are persisted per user and reloaded for inference.
//
// # Quick Start
//
//	records, err := dataset.ReadCSV(f)
//	if err != nil {
//	    return err
//	}
//	bundle, metrics, err := equipment.Train(records)
//	if err != nil {
//	    return err
//	}
//	pred, err := bundle.Predict("Pump")
//
// # Packages
//
//   - equipment: cleaning, training, prediction and persistence of bundles
//   - dataset: CSV ingestion and dataset summaries
//   - store: bundle stores (local files, S3 compatible, Redis) and caching
//   - preprocessing: StandardScaler and LabelEncoder
//   - linear, tree, ensemble: the regressors and classifiers
//   - metrics: R², MSE, accuracy and the confusion matrix
//   - modelselection: train/test splitting
//   - core/model: estimator interfaces and gob persistence helpers
//   - core/parallel: parallel processing utilities
//   - pkg/errors, pkg/log: error types and structured logging
//   - internal/service, internal/server: training service and HTTP API
//
// The cmd/equipml binary serves the HTTP API, retrains every user on a cron
// schedule and uploads CSV files from the command line.
package equipml
