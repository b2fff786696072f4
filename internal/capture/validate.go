package capture

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidRecord is returned for records that cannot be keyed or dated.
var ErrInvalidRecord = errors.New("capture: invalid question record")

var recordValidate = validator.New()

// Validate checks the required fields of a QuestionRecord.
func (q *QuestionRecord) Validate() error {
	if err := recordValidate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalidRecord, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}
