package predict

import (
	"errors"
	"fmt"
)

// ErrNotJSON is returned when a generation template is not a .json file.
var ErrNotJSON = errors.New("the file format is not json")

// ServiceError is a non-200 reply from a model service.
type ServiceError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("request to %s failed, status code: %d, error message: %s", e.Endpoint, e.StatusCode, e.Body)
}

// ShapeError is a 200 reply whose prediction array does not hold exactly four values.
type ShapeError struct {
	Got int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("prediction list has incorrect length: got %d, want 4", e.Got)
}
