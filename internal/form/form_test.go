package form

import (
	"reflect"
	"testing"
)

func newFilter() *Form {
	return NewFilterForm(FilterDefaults{DateFrom: "2023-06-01", DateTo: "2023-07-01", CloudCoverage: 22})
}

func TestFilterForm_DefaultsValidAndPristine(t *testing.T) {
	f := newFilter()
	if !f.Valid() {
		t.Fatalf("defaults should be valid, errors=%v", f.AllErrors())
	}
	if !f.Pristine() || f.Touched() {
		t.Fatal("new form must be pristine and untouched")
	}
	req, err := ImageRequest(f)
	if err != nil {
		t.Fatalf("ImageRequest: %v", err)
	}
	if req.CloudCoverage != 22 || req.DateFrom.String() != "2023-06-01" || req.DateTo.String() != "2023-07-01" {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.Extent != nil {
		t.Fatal("form never sets an extent")
	}
}

func TestFilterForm_CloudCoverageBounds(t *testing.T) {
	cases := []struct {
		value string
		want  []string
	}{
		{"0", nil},
		{"100", nil},
		{"150", []string{ErrMax}},
		{"-1", []string{ErrMin}},
		{"", []string{ErrRequired}},
		{"22.5", []string{ErrInteger}},
		{"abc", []string{ErrInteger}},
	}
	for _, tc := range cases {
		f := newFilter()
		if err := f.SetValue(FieldCloudCoverage, tc.value); err != nil {
			t.Fatal(err)
		}
		got := f.AllErrors()[FieldCloudCoverage]
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("value %q: errors=%v want %v", tc.value, got, tc.want)
		}
		if f.Valid() != (tc.want == nil) {
			t.Fatalf("value %q: Valid()=%v", tc.value, f.Valid())
		}
	}
}

func TestFilterForm_DateValidation(t *testing.T) {
	f := newFilter()
	_ = f.SetValue(FieldDateFrom, "2023-13-45")
	_ = f.SetValue(FieldDateTo, "")
	errs := f.AllErrors()
	if !reflect.DeepEqual(errs[FieldDateFrom], []string{ErrDate}) {
		t.Fatalf("dateFrom errors=%v", errs[FieldDateFrom])
	}
	if !reflect.DeepEqual(errs[FieldDateTo], []string{ErrRequired}) {
		t.Fatalf("dateTo errors=%v", errs[FieldDateTo])
	}
	if got := f.InvalidFields(); !reflect.DeepEqual(got, []string{FieldDateFrom, FieldDateTo}) {
		t.Fatalf("InvalidFields=%v", got)
	}
	if _, err := ImageRequest(f); err == nil {
		t.Fatal("ImageRequest must fail on an invalid form")
	}
}

func TestFilterForm_ReversedRangeAllowedByDefault(t *testing.T) {
	f := newFilter()
	_ = f.SetValue(FieldDateFrom, "2023-07-01")
	_ = f.SetValue(FieldDateTo, "2023-06-01")
	if !f.Valid() {
		t.Fatalf("reversed range should pass without date order, errors=%v", f.AllErrors())
	}

	strict := NewFilterForm(FilterDefaults{DateFrom: "2023-07-01", DateTo: "2023-06-01", CloudCoverage: 10, EnforceDateOrder: true})
	if strict.Valid() {
		t.Fatal("date order validator should reject dateTo before dateFrom")
	}
	if got := strict.AllErrors()[FieldDateTo]; !reflect.DeepEqual(got, []string{ErrDateOrder}) {
		t.Fatalf("dateTo errors=%v", got)
	}
}

func TestForm_ErrorsVisibleOnlyWhenTouchedOrDirty(t *testing.T) {
	f := NewFilterForm(FilterDefaults{DateFrom: "", DateTo: "2023-07-01", CloudCoverage: 5})
	if len(f.Errors()) != 0 {
		t.Fatalf("untouched controls must not show errors, got %v", f.Errors())
	}
	if f.Valid() {
		t.Fatal("empty dateFrom must make the form invalid")
	}
	f.MarkAllAsTouched()
	if !f.Touched() {
		t.Fatal("MarkAllAsTouched should touch the form")
	}
	if got := f.Errors()[FieldDateFrom]; !reflect.DeepEqual(got, []string{ErrRequired}) {
		t.Fatalf("visible errors=%v", f.Errors())
	}
	if !f.Pristine() {
		t.Fatal("touching must not dirty the form")
	}
}

func TestForm_SetValue(t *testing.T) {
	f := newFilter()
	if err := f.SetValue("nope", "x"); err == nil {
		t.Fatal("unknown control should error")
	}
	_ = f.SetValue(FieldCloudCoverage, "22")
	if !f.Pristine() {
		t.Fatal("setting the same value should not dirty the control")
	}
	_ = f.SetValue(FieldCloudCoverage, "30")
	if f.Pristine() || !f.Get(FieldCloudCoverage).Dirty {
		t.Fatal("changed value should dirty the control")
	}
}

func TestForm_StateRestore(t *testing.T) {
	f := newFilter()
	_ = f.SetValue(FieldCloudCoverage, "150")
	f.MarkAllAsTouched()
	st := f.State()

	g := newFilter()
	g.Restore(st)
	if g.Value(FieldCloudCoverage) != "150" || !g.Get(FieldDateFrom).Touched {
		t.Fatalf("restore lost state: %+v", g.State())
	}
	if g.Valid() {
		t.Fatal("restored invalid value must stay invalid")
	}

	g.Restore(State{"legacy": {Value: "x"}})
	if g.Get("legacy") != nil {
		t.Fatal("unknown controls must be ignored")
	}
}

func TestForm_Status(t *testing.T) {
	f := newFilter()
	_ = f.SetValue(FieldCloudCoverage, "101")
	st := f.Status()
	if st.Valid || st.Pristine {
		t.Fatalf("status=%+v", st)
	}
	if st.Values[FieldCloudCoverage] != "101" {
		t.Fatalf("values=%v", st.Values)
	}
	if !reflect.DeepEqual(st.Errors[FieldCloudCoverage], []string{ErrMax}) {
		t.Fatalf("errors=%v", st.Errors)
	}
}

func TestDataSourcesForm(t *testing.T) {
	f := NewDataSourcesForm("STAC")
	if !f.Valid() || f.Value(FieldSelectBox) != "STAC" {
		t.Fatalf("unexpected data source form %+v", f.Status())
	}
	_ = f.SetValue(FieldSelectBox, "")
	if f.Valid() {
		t.Fatal("empty selection should be invalid")
	}
}
