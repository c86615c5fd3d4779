package models

import "fmt"

// Confidence is a bounded real in [0,1] shared by every extracted fact.
type Confidence float64

// Validate returns an error when the confidence lies outside [0,1].
func (c Confidence) Validate() error {
	if c < 0 || c > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", float64(c))
	}
	return nil
}
