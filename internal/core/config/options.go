package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
)

// Options are the fixed dropdown choices offered to the UI.
type Options struct {
	DataSources    []model.Option `yaml:"data_sources" json:"dataSources"`
	MapSources     []model.Option `yaml:"map_sources" json:"mapSources"`
	DetectionTypes []model.Option `yaml:"detection_types" json:"detectionTypes"`
}

func DefaultOptions() Options {
	return Options{
		DataSources: []model.Option{
			{Value: model.DataSourceSTAC, Label: "STAC"},
			{Value: model.DataSourceSentinel, Label: "Sentinel Processing API"},
			{Value: model.DataSourceBing, Label: "Bing Areal Map Screenshot"},
		},
		MapSources: []model.Option{
			{Value: model.MapSourceOSM, Label: "OpenStreetMap"},
			{Value: model.MapSourceBing, Label: "Bing Aerial"},
			{Value: model.MapSourceEsri, Label: "Esri World Imagery"},
		},
		DetectionTypes: []model.Option{
			{Value: "trees", Label: "Trees"},
			{Value: "buildings", Label: "Buildings"},
			{Value: "vehicles", Label: "Vehicles"},
			{Value: "ships", Label: "Ships"},
		},
	}
}

// LoadOptions reads a YAML options file; sections missing from the file keep
// their defaults. An empty path returns the defaults.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	if path == "" {
		return opts, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("read options file: %w", err)
	}
	var fromFile Options
	if err := yaml.Unmarshal(b, &fromFile); err != nil {
		return Options{}, fmt.Errorf("parse options file %s: %w", path, err)
	}
	if len(fromFile.DataSources) > 0 {
		opts.DataSources = fromFile.DataSources
	}
	if len(fromFile.MapSources) > 0 {
		opts.MapSources = fromFile.MapSources
	}
	if len(fromFile.DetectionTypes) > 0 {
		opts.DetectionTypes = fromFile.DetectionTypes
	}
	for _, o := range opts.DataSources {
		if o.Value == "" {
			return Options{}, fmt.Errorf("options file %s: data source without value", path)
		}
	}
	return opts, nil
}

func (o Options) HasDataSource(v string) bool { return hasValue(o.DataSources, v) }
func (o Options) HasMapSource(v string) bool  { return hasValue(o.MapSources, v) }

func hasValue(opts []model.Option, v string) bool {
	for _, o := range opts {
		if o.Value == v {
			return true
		}
	}
	return false
}
