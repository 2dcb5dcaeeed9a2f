package db

import "time"

type EvaluationModel struct {
	ID                 string    `gorm:"type:uuid;primaryKey"`
	DeliveryID         string    `gorm:"index"`
	Owner              string    `gorm:"index:idx_evaluations_repo,priority:1;not null"`
	Repo               string    `gorm:"index:idx_evaluations_repo,priority:2;not null"`
	PullRequest        int       `gorm:"not null"`
	HeadSHA            string    `gorm:"not null"`
	CheckRunID         int64     `gorm:"column:check_run_id"`
	PolicyType         string    `gorm:"not null"`
	PolicyDefault      bool      `gorm:"not null"`
	Conclusion         string    `gorm:"not null"`
	Title              string    `gorm:"not null"`
	PassedCount        int       `gorm:"not null"`
	FailedCount        int       `gorm:"not null"`
	LookupFailureCount int       `gorm:"not null"`
	PipelineError      *string   `gorm:"type:text"`
	CommitsJSON        []byte    `gorm:"type:jsonb;not null"`
	CreatedAt          time.Time `gorm:"index:idx_evaluations_repo,priority:3;not null"`
}

func (EvaluationModel) TableName() string { return "evaluations" }
