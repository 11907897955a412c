package model

import "time"

// ViewModel is the session state rendered by the UI: selections, the current
// extent and whatever the store loaded for it.
type ViewModel struct {
	DataSource    string        `json:"dataSource"`
	MapSource     string        `json:"mapSource"`
	DetectionType string        `json:"detectionType"`
	Extent        *Extent       `json:"extent,omitempty"`
	SRID          string        `json:"srid,omitempty"`
	Loading       bool          `json:"loading"`
	Image         *ImageResult  `json:"image,omitempty"`
	Overlay       *ImageResult  `json:"overlay,omitempty"`
	Detections    []Detection   `json:"detections,omitempty"`
	Items         []ImageResult `json:"items,omitempty"`
	Error         string        `json:"error,omitempty"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Clone copies v so the copy can be modified without touching v.
func (v ViewModel) Clone() ViewModel {
	out := v
	if v.Extent != nil {
		e := *v.Extent
		out.Extent = &e
	}
	if v.Image != nil {
		im := *v.Image
		out.Image = &im
	}
	if v.Overlay != nil {
		ov := *v.Overlay
		out.Overlay = &ov
	}
	out.Detections = append([]Detection(nil), v.Detections...)
	out.Items = append([]ImageResult(nil), v.Items...)
	return out
}
