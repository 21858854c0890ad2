package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PriceFile is the YAML document accepted by "keyforge price import":
//
//	prices:
//	  - validity_days: 30
//	    price: 2.50
type PriceFile struct {
	Prices []PriceFileEntry `yaml:"prices"`
}

// PriceFileEntry keeps values as written so malformed rows can be reported
// individually.
type PriceFileEntry struct {
	ValidityDays string `yaml:"validity_days"`
	Price        string `yaml:"price"`
}

// LoadPriceFile reads and parses a price file.
func LoadPriceFile(path string) (*PriceFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read price file: %w", err)
	}
	return ParsePriceFile(data)
}

// ParsePriceFile parses price file content.
func ParsePriceFile(data []byte) (*PriceFile, error) {
	var pf PriceFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse price file: %w", err)
	}
	return &pf, nil
}

// Marshal renders the price file as YAML.
func (pf *PriceFile) Marshal() ([]byte, error) {
	return yaml.Marshal(pf)
}
