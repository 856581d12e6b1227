package models

import (
	"time"

	"github.com/google/uuid"
)

// SampleRequest asks the worker to draw training pairs from a sequence.
// It arrives on the sampling queue as JSON.
type SampleRequest struct {
	JobID    uuid.UUID `json:"job_id"`
	Sequence string    `json:"sequence"`
	Epoch    int       `json:"epoch"`
	Count    int       `json:"count"`

	// Overrides for the worker's default strategy; zero values keep the
	// configured defaults.
	Mode   string `json:"mode,omitempty"`
	MaxGap int    `json:"max_gap,omitempty"`
}

// TrainingPair is one sampled template/search example.
type TrainingPair struct {
	TemplateSequence string `json:"template_sequence"`
	SearchSequence   string `json:"search_sequence"`
	TemplateFrames   []int  `json:"template_frames"`
	SearchFrames     []int  `json:"search_frames"`
	Positive         bool   `json:"positive"`
	Relaxed          bool   `json:"relaxed"`
	Attempts         int    `json:"attempts"`
}

// SampleRecord ties a drawn pair to the job and epoch it was drawn for.
type SampleRecord struct {
	JobID     uuid.UUID    `json:"job_id"`
	Epoch     int          `json:"epoch"`
	Pair      TrainingPair `json:"pair"`
	DrawnAt   time.Time    `json:"drawn_at"`
	DrawNanos int64        `json:"draw_nanos"`
}

// SampleStats summarizes the draws recorded for one epoch.
type SampleStats struct {
	Epoch        int     `json:"epoch"`
	Pairs        int     `json:"pairs"`
	Positives    int     `json:"positives"`
	Relaxed      int     `json:"relaxed"`
	MeanAttempts float64 `json:"mean_attempts"`
}
