package service

import (
	"context"
	"sync"

	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/YuminosukeSato/equipml/pkg/log"
	"github.com/robfig/cron/v3"
)

// cronParser は5フィールドと秒付き6フィールドの両方を受け付ける
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler は cron 式に従って RetrainAll を実行する
type Scheduler struct {
	cron    *cron.Cron
	trainer *Trainer
	source  RecordSource
	logger  log.Logger

	mu      sync.Mutex
	running bool
	last    RetrainReport
}

// NewScheduler は cron 式 cronSpec の間隔で再学習するスケジューラを作る
func NewScheduler(cronSpec string, trainer *Trainer, source RecordSource) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithParser(cronParser)),
		trainer: trainer,
		source:  source,
		logger:  log.GetLoggerWithName("service.scheduler"),
	}
	if _, err := s.cron.AddFunc(cronSpec, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, errors.NewValidationError("retrain_cron", err.Error(), cronSpec)
	}
	return s, nil
}

// Start はスケジュールを開始する
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("retrain scheduler started")
}

// Stop は新しい実行を止め、実行中の再学習の終了を待つ
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce は再学習を1回実行する。前回の実行中なら何もせず false を返す
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("previous retraining still running, skipped")
		return false
	}
	s.running = true
	s.mu.Unlock()

	// cron のゴルーチンで panic するとプロセスごと落ちるので、ここで止める
	var report RetrainReport
	err := errors.SafeExecute("RetrainAll", func() error {
		var err error
		report, err = s.trainer.RetrainAll(ctx, s.source)
		return err
	})
	if err != nil {
		s.logger.Error("retraining aborted", err)
	}

	s.mu.Lock()
	s.running = false
	s.last = report
	s.mu.Unlock()
	return true
}

// LastReport は直近の再学習の結果
func (s *Scheduler) LastReport() RetrainReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
