package attendance

import (
	"errors"
	"fmt"
)

// Reason identifies why an otherwise valid mark was refused.
type Reason string

const (
	ReasonWrongDay      Reason = "WrongDay"
	ReasonOutsideWindow Reason = "OutsideWindow"
	ReasonOutOfRange    Reason = "OutOfRange"
	ReasonAlreadyMarked Reason = "AlreadyMarked"
)

// Rejection is a business outcome, not a fault.
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string { return r.Message }

func wrongDay(day string) *Rejection {
	return &Rejection{
		Reason:  ReasonWrongDay,
		Message: fmt.Sprintf("Attendance can only be marked on %s during class hours.", day),
	}
}

func outsideWindow() *Rejection {
	return &Rejection{
		Reason:  ReasonOutsideWindow,
		Message: "Attendance can only be marked during class hours.",
	}
}

func outOfRange() *Rejection {
	return &Rejection{
		Reason:  ReasonOutOfRange,
		Message: "You are not within the allowed class location radius.",
	}
}

func alreadyMarked() *Rejection {
	return &Rejection{
		Reason:  ReasonAlreadyMarked,
		Message: "You have already marked attendance for this class today.",
	}
}

// AsRejection unwraps a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
