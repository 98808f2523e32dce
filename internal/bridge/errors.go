package bridge

import "fmt"

// StoreError wraps any persistence failure. It is the only bridge error
// class worth retrying at a higher layer.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("bridge: store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ConflictError is returned by Create when an active bridge already exists
// for the same user and admin.
type ConflictError struct {
	UserID     string
	AdminID    string
	ExistingID uint
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("bridge: active bridge %d already exists for user %s and admin %s",
		e.ExistingID, e.UserID, e.AdminID)
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// DeliveryError reports a failed send to one recipient.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("bridge: deliver to %s: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
