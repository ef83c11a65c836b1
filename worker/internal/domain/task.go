package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Parameters is the open key-value map carried by a task. Values are
// checked lazily by whatever consumes them.
type Parameters map[string]any

// ImageID accepts both JSON strings and numbers.
type ImageID string

func (id *ImageID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ImageID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("imageId must be a string or number: %w", err)
	}
	*id = ImageID(n.String())
	return nil
}

// SegmentationTask is one unit of work as published by the producer.
type SegmentationTask struct {
	TaskID      string     `json:"taskId" validate:"required"`
	ImageID     ImageID    `json:"imageId" validate:"required"`
	ImagePath   string     `json:"imagePath" validate:"required"`
	Parameters  Parameters `json:"parameters,omitempty"`
	CallbackURL string     `json:"callbackUrl" validate:"required,http_url"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func taskValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// DecodeTask parses and validates a queue message body. Every failure
// wraps ErrInvalidTask.
func DecodeTask(data []byte) (SegmentationTask, error) {
	var task SegmentationTask
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&task); err != nil {
		return SegmentationTask{}, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}

	task.TaskID = strings.TrimSpace(task.TaskID)
	task.ImagePath = strings.TrimSpace(task.ImagePath)
	task.CallbackURL = strings.TrimSpace(task.CallbackURL)

	if err := task.Validate(); err != nil {
		return SegmentationTask{}, err
	}
	return task, nil
}

func (t SegmentationTask) Validate() error {
	if err := taskValidator().Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
			}
			return fmt.Errorf("%w: invalid fields: %s", ErrInvalidTask, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	return nil
}

// Float reads a numeric parameter. ok is false when the key is absent;
// err is set when it is present but not a number.
func (p Parameters) Float(key string) (v float64, ok bool, err error) {
	raw, found := p[key]
	if !found || raw == nil {
		return 0, false, nil
	}

	switch n := raw.(type) {
	case json.Number:
		v, err = n.Float64()
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case string:
		v, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		err = fmt.Errorf("unsupported type %T", raw)
	}
	if err != nil {
		return 0, true, fmt.Errorf("parameter %q: %w", key, err)
	}
	return v, true, nil
}
