package server

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/YuminosukeSato/equipml/dataset"
	"github.com/YuminosukeSato/equipml/equipment"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// maxUploadBytes はCSVアップロードの上限
const maxUploadBytes = 32 << 20

// TrainRequest は学習リクエスト。Records が空なら保存済みのデータセットで学習する
type TrainRequest struct {
	Records []equipment.RawRecord `json:"records"`
}

// PredictRequest はパラメータ予測のリクエスト
type PredictRequest struct {
	EquipmentType string `json:"equipment_type"`
}

// PredictTypeRequest はタイプ予測のリクエスト
type PredictTypeRequest struct {
	Flowrate    *float64 `json:"flowrate"`
	Pressure    *float64 `json:"pressure"`
	Temperature *float64 `json:"temperature"`
}

// TrainResponse は学習成功時の応答
type TrainResponse struct {
	Message string                    `json:"message"`
	Metrics equipment.CombinedMetrics `json:"metrics"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func userID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "userID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewValidationError("userID", "must be a positive integer", raw)
	}
	return id, nil
}

// uploadDataset は multipart の file フィールド、または本文そのものをCSVとして受け取る
func (s *Server) uploadDataset(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var (
		body io.Reader = r.Body
		name           = r.URL.Query().Get("name")
	)
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			s.writeError(w, r, errors.NewValidationError("file", "no file provided", nil))
			return
		}
		defer file.Close()
		body, name = file, header.Filename
	}
	if name == "" {
		name = "upload.csv"
	}

	records, err := dataset.ReadCSV(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Uploader.Upload(r.Context(), id, name, records)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, res)
}

func (s *Server) train(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req TrainRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && err != io.EOF {
		s.writeError(w, r, errors.NewValidationError("body", err.Error(), nil))
		return
	}

	var records []equipment.Record
	if len(req.Records) > 0 {
		records, err = equipment.RecordsFromRaw(req.Records)
	} else {
		records, err = s.deps.Records.Records(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cm, err := s.deps.Trainer.TrainUser(r.Context(), id, records)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, TrainResponse{Message: "Model trained successfully", Metrics: cm})
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req PredictRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.writeError(w, r, errors.NewValidationError("body", err.Error(), nil))
		return
	}
	if req.EquipmentType == "" {
		s.writeError(w, r, errors.NewValidationError("equipment_type", "field is required", nil))
		return
	}
	pred, err := s.deps.Predictor.Predict(r.Context(), id, req.EquipmentType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, pred)
}

func (s *Server) predictType(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req PredictTypeRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.writeError(w, r, errors.NewValidationError("body", err.Error(), nil))
		return
	}
	if req.Flowrate == nil || req.Pressure == nil || req.Temperature == nil {
		s.writeError(w, r, errors.NewValidationError("body", "flowrate, pressure and temperature are required", nil))
		return
	}
	tp, err := s.deps.Predictor.PredictType(r.Context(), id, *req.Flowrate, *req.Pressure, *req.Temperature)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, tp)
}

func (s *Server) predictAll(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	all, err := s.deps.Predictor.PredictAll(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, all)
}

func (s *Server) featureImportance(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	imp, err := s.deps.Predictor.FeatureImportance(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, imp)
}

// queryLimit は ?limit= を読む。なければ def を返す
func queryLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.NewValidationError("limit", "must be an integer", v)
	}
	return limit, nil
}

func (s *Server) runs(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryLimit(r, 20)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	runs, err := s.deps.Runs.Runs(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, runs)
}

// listDatasets は新しい順にデータセットを返す
func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryLimit(r, s.deps.HistoryLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	datasets, err := s.deps.Datasets.RecentDatasets(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, datasets)
}

func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ds, err := s.deps.Datasets.Dataset(r.Context(), id, chi.URLParam(r, "datasetID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, ds)
}

func (s *Server) deleteDataset(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Datasets.DeleteDataset(r.Context(), id, chi.URLParam(r, "datasetID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	render.NoContent(w, r)
}
