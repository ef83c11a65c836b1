package domain

import (
	"time"

	"github.com/spheroseg/segpipeline/core/contour"
)

type OutcomeStatus string

const (
	StatusCompleted OutcomeStatus = "completed"
	StatusFailed    OutcomeStatus = "failed"
)

// TaskOutcome is the terminal result of one task. Exactly one is produced
// per accepted task.
type TaskOutcome struct {
	TaskID     string
	Status     OutcomeStatus
	Polygons   []contour.Polygon
	Duration   time.Duration
	Kind       ErrorKind
	Error      string
	FinishedAt time.Time
}

func Completed(taskID string, polygons []contour.Polygon, d time.Duration) TaskOutcome {
	if polygons == nil {
		polygons = []contour.Polygon{}
	}
	return TaskOutcome{
		TaskID:     taskID,
		Status:     StatusCompleted,
		Polygons:   polygons,
		Duration:   d,
		FinishedAt: time.Now().UTC(),
	}
}

func Failed(taskID string, err error, d time.Duration) TaskOutcome {
	kind := Classify(err)
	msg := err.Error()
	if kind == KindTimeout {
		msg = ErrTimeout.Error()
	}
	return TaskOutcome{
		TaskID:     taskID,
		Status:     StatusFailed,
		Duration:   d,
		Kind:       kind,
		Error:      msg,
		FinishedAt: time.Now().UTC(),
	}
}

func (o TaskOutcome) TimedOut() bool {
	return o.Status == StatusFailed && o.Kind == KindTimeout
}

type ResultData struct {
	Polygons       []contour.Polygon `json:"polygons"`
	ProcessingTime float64           `json:"processing_time"`
	Timestamp      time.Time         `json:"timestamp"`
	ProcessedBy    string            `json:"processed_by,omitempty"`
}

// CallbackPayload is the body delivered to a task's callbackUrl.
type CallbackPayload struct {
	Status      OutcomeStatus `json:"status"`
	ResultData  *ResultData   `json:"result_data,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
	ProcessedBy string        `json:"processed_by,omitempty"`
	Parameters  Parameters    `json:"parameters,omitempty"`
}

func (o TaskOutcome) Payload(instanceID string, params Parameters) CallbackPayload {
	p := CallbackPayload{
		Status:      o.Status,
		ProcessedBy: instanceID,
		Parameters:  params,
	}

	if o.Status == StatusCompleted {
		polygons := o.Polygons
		if polygons == nil {
			polygons = []contour.Polygon{}
		}
		p.ResultData = &ResultData{
			Polygons:       polygons,
			ProcessingTime: o.Duration.Seconds(),
			Timestamp:      o.FinishedAt,
			ProcessedBy:    instanceID,
		}
		return p
	}

	p.Error = o.Error
	p.ErrorKind = o.Kind
	return p
}
