package plant

import "errors"

// ErrInvalidPlant is returned when the plant description fails validation.
var ErrInvalidPlant = errors.New("plant: invalid description")
