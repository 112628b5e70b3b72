package attendance

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/checkin/core"
)

const (
	StatusPresent = "present"
	StatusAbsent  = "absent"

	dateLayout = "2006-01-02"
)

type (
	// Identity is who is checking in.
	Identity struct {
		Roll string `json:"roll" validate:"required,notblank"`
		Name string `json:"name" validate:"required,notblank"`
	}

	// Confirmation is the backend's answer to a successful mark.
	Confirmation struct {
		StudentID string    `json:"studentId"`
		Roll      string    `json:"roll"`
		Name      string    `json:"name"`
		Timestamp time.Time `json:"timestamp"`
		Status    string    `json:"status"`
		Message   string    `json:"message,omitempty"`
	}

	Record struct {
		ID        string    `json:"id"`
		StudentID string    `json:"studentId"`
		Roll      string    `json:"roll"`
		Name      string    `json:"name"`
		Timestamp time.Time `json:"timestamp"`
		Status    string    `json:"status"`
	}

	Stats struct {
		Present int `json:"present"`
		Absent  int `json:"absent"`
		Total   int `json:"total"`
	}

	// Filter narrows a records query. Dates are YYYY-MM-DD; To is exclusive.
	Filter struct {
		From string `json:"from,omitempty" query:"from"`
		To   string `json:"to,omitempty" query:"to"`
		Roll string `json:"roll,omitempty" query:"roll"`
	}
)

// Repeated reports a same-day repeat that the backend acknowledged with a 2xx.
func (c Confirmation) Repeated() bool {
	return strings.EqualFold(strings.TrimSpace(c.Message), MsgAlreadyMarked)
}

func (id *Identity) Clean() {
	id.Roll = core.CleanString(id.Roll)
	id.Name = core.CleanString(id.Name)
}

// Complete reports whether both roll and name are set.
func (id Identity) Complete() bool {
	return core.CleanString(id.Roll) != "" && core.CleanString(id.Name) != ""
}

func (id *Identity) Validate(validate *validator.Validate) error {
	id.Clean()
	return validate.Struct(id)
}

// Date returns the record day (YYYY-MM-DD).
func (r Record) Date() string {
	return r.Timestamp.Format(dateLayout)
}

// Clock returns the record time of day (HH:MM).
func (r Record) Clock() string {
	return r.Timestamp.Format("15:04")
}

func (f *Filter) Clean() {
	f.From = core.CleanString(f.From)
	f.To = core.CleanString(f.To)
	f.Roll = core.CleanString(f.Roll)
}

// Validate checks the dates format and order.
func (f *Filter) Validate() error {
	f.Clean()
	var flds []core.FieldError
	var from, to time.Time
	var err error
	if f.From != "" {
		if from, err = time.Parse(dateLayout, f.From); err != nil {
			flds = append(flds, core.FieldError{Field: "from", Error: "must be a date (YYYY-MM-DD)"})
		}
	}
	if f.To != "" {
		if to, err = time.Parse(dateLayout, f.To); err != nil {
			flds = append(flds, core.FieldError{Field: "to", Error: "must be a date (YYYY-MM-DD)"})
		}
	}
	if len(flds) == 0 && !from.IsZero() && !to.IsZero() && to.Before(from) {
		flds = append(flds, core.FieldError{Field: "to", Error: "must not be before from"})
	}
	if len(flds) > 0 {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

// Query returns the filter as backend query parameters.
func (f Filter) Query() map[string]string {
	q := make(map[string]string, 3)
	if f.From != "" {
		q["from"] = f.From
	}
	if f.To != "" {
		q["to"] = f.To
	}
	if f.Roll != "" {
		q["roll"] = f.Roll
	}
	return q
}

// StatsOf counts every returned record as a presence.
func StatsOf(records []Record) Stats {
	present := len(records)
	return Stats{Present: present, Absent: 0, Total: present}
}
