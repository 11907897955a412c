// Package form holds UI form state: control values, touched/dirty flags and
// validation, mirroring how the browser form reports field errors.
package form

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
)

const (
	FieldDateFrom      = "dateFrom"
	FieldDateTo        = "dateTo"
	FieldCloudCoverage = "cloudCoverage"
	FieldSelectBox     = "selectBox"
)

type Control struct {
	Name       string
	Value      string
	Touched    bool
	Dirty      bool
	validators []Validator
}

// Errors runs the control validators in declaration order.
func (c *Control) Errors() []string {
	var out []string
	for _, v := range c.validators {
		if key := v(c.Value); key != "" {
			out = append(out, key)
		}
	}
	return out
}

type Form struct {
	order    []string
	controls map[string]*Control
	group    []GroupValidator
}

func New() *Form {
	return &Form{controls: map[string]*Control{}}
}

// Add registers a control with its initial value.
func (f *Form) Add(name, initial string, validators ...Validator) *Form {
	if _, ok := f.controls[name]; !ok {
		f.order = append(f.order, name)
	}
	f.controls[name] = &Control{Name: name, Value: initial, validators: validators}
	return f
}

func (f *Form) AddGroupValidator(g GroupValidator) *Form {
	f.group = append(f.group, g)
	return f
}

func (f *Form) Get(name string) *Control {
	return f.controls[name]
}

// Value returns the raw value of a control, "" when unknown.
func (f *Form) Value(name string) string {
	if c := f.controls[name]; c != nil {
		return c.Value
	}
	return ""
}

// SetValue updates a control the way user input does: the control becomes dirty.
func (f *Form) SetValue(name, value string) error {
	c := f.controls[name]
	if c == nil {
		return fmt.Errorf("unknown form control %q", name)
	}
	if c.Value != value {
		c.Dirty = true
	}
	c.Value = value
	return nil
}

func (f *Form) MarkAllAsTouched() {
	for _, c := range f.controls {
		c.Touched = true
	}
}

func (f *Form) Touched() bool {
	for _, c := range f.controls {
		if c.Touched {
			return true
		}
	}
	return false
}

func (f *Form) Pristine() bool {
	for _, c := range f.controls {
		if c.Dirty {
			return false
		}
	}
	return true
}

// AllErrors returns every failing control, touched or not.
func (f *Form) AllErrors() map[string][]string {
	out := map[string][]string{}
	for _, name := range f.order {
		if errs := f.controls[name].Errors(); len(errs) > 0 {
			out[name] = errs
		}
	}
	for _, g := range f.group {
		for name, key := range g(f) {
			out[name] = append(out[name], key)
		}
	}
	return out
}

// Errors returns the errors a user should see: only touched or dirty controls.
func (f *Form) Errors() map[string][]string {
	out := map[string][]string{}
	for name, errs := range f.AllErrors() {
		c := f.controls[name]
		if c != nil && (c.Touched || c.Dirty) {
			out[name] = errs
		}
	}
	return out
}

func (f *Form) Valid() bool {
	return len(f.AllErrors()) == 0
}

// InvalidFields lists failing controls in a stable order.
func (f *Form) InvalidFields() []string {
	errs := f.AllErrors()
	out := make([]string, 0, len(errs))
	for name := range errs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type ControlState struct {
	Value   string `json:"value"`
	Touched bool   `json:"touched,omitempty"`
	Dirty   bool   `json:"dirty,omitempty"`
}

// State is the persisted form snapshot.
type State map[string]ControlState

func (f *Form) State() State {
	st := make(State, len(f.controls))
	for name, c := range f.controls {
		st[name] = ControlState{Value: c.Value, Touched: c.Touched, Dirty: c.Dirty}
	}
	return st
}

// Restore applies a snapshot; unknown controls are ignored so older sessions
// survive control renames.
func (f *Form) Restore(st State) {
	for name, cs := range st {
		if c := f.controls[name]; c != nil {
			c.Value = cs.Value
			c.Touched = cs.Touched
			c.Dirty = cs.Dirty
		}
	}
}

// Status is the JSON view of the form rendered by the API.
type Status struct {
	Values   map[string]string   `json:"values"`
	Valid    bool                `json:"valid"`
	Pristine bool                `json:"pristine"`
	Touched  bool                `json:"touched"`
	Errors   map[string][]string `json:"errors"`
}

func (f *Form) Status() Status {
	vals := make(map[string]string, len(f.controls))
	for name, c := range f.controls {
		vals[name] = c.Value
	}
	return Status{
		Values:   vals,
		Valid:    f.Valid(),
		Pristine: f.Pristine(),
		Touched:  f.Touched(),
		Errors:   f.Errors(),
	}
}

type FilterDefaults struct {
	DateFrom         string
	DateTo           string
	CloudCoverage    int
	EnforceDateOrder bool
}

// NewFilterForm builds the date range + cloud coverage form.
func NewFilterForm(d FilterDefaults) *Form {
	f := New().
		Add(FieldDateFrom, d.DateFrom, Required(), Date()).
		Add(FieldDateTo, d.DateTo, Required(), Date()).
		Add(FieldCloudCoverage, strconv.Itoa(d.CloudCoverage), Required(), Integer(), Min(0), Max(100))
	if d.EnforceDateOrder {
		f.AddGroupValidator(DateOrder(FieldDateFrom, FieldDateTo))
	}
	return f
}

// NewDataSourcesForm builds the data source selector form.
func NewDataSourcesForm(initial string) *Form {
	return New().Add(FieldSelectBox, initial, Required())
}

// ImageRequest reads the filter values of a valid filter form.
func ImageRequest(f *Form) (model.ImageRequest, error) {
	if !f.Valid() {
		return model.ImageRequest{}, fmt.Errorf("form invalid: %s", strings.Join(f.InvalidFields(), ","))
	}
	from, err := model.ParseDate(f.Value(FieldDateFrom))
	if err != nil {
		return model.ImageRequest{}, fmt.Errorf("%s: %w", FieldDateFrom, err)
	}
	to, err := model.ParseDate(f.Value(FieldDateTo))
	if err != nil {
		return model.ImageRequest{}, fmt.Errorf("%s: %w", FieldDateTo, err)
	}
	cc, err := strconv.Atoi(strings.TrimSpace(f.Value(FieldCloudCoverage)))
	if err != nil {
		return model.ImageRequest{}, fmt.Errorf("%s: %w", FieldCloudCoverage, err)
	}
	return model.ImageRequest{DateFrom: from, DateTo: to, CloudCoverage: cc}, nil
}
