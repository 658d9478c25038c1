package dlp

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Rule struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Pattern  string `yaml:"pattern" json:"pattern"`
	Mask     string `yaml:"mask" json:"mask"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Severity string `yaml:"severity" json:"severity"`
}

// RulesConfig holds value patterns and the registry columns that identify a
// person outright. Those columns are masked whatever they contain.
type RulesConfig struct {
	Rules  []Rule   `yaml:"rules" json:"rules"`
	Fields []string `yaml:"identifying_fields" json:"identifying_fields"`
}

func LoadRules(path string) (RulesConfig, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return RulesConfig{}, fmt.Errorf("reading DLP rules: %w", err)
	}

	var cfg RulesConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return RulesConfig{}, fmt.Errorf("parsing DLP rules: %w", err)
	}

	if len(cfg.Rules) == 0 && len(cfg.Fields) == 0 {
		return RulesConfig{}, errors.New("no DLP rules configured")
	}

	return cfg, nil
}

// DefaultRules targets what Beninese registry exports carry: +229 phone
// numbers, NPI numbers, e-mails and dates of birth, plus name and contact
// columns.
func DefaultRules() RulesConfig {
	return RulesConfig{
		Rules: []Rule{
			{Name: "Email", Type: "email", Pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, Mask: "***@***", Enabled: true, Severity: "medium"},
			{Name: "Phone", Type: "phone", Pattern: `(?:\+229[\s.-]?)?\b(?:01[\s.-]?)?\d{2}(?:[\s.-]?\d{2}){3}\b`, Mask: "** ** ** **", Enabled: true, Severity: "medium"},
			{Name: "NPI", Type: "npi", Pattern: `\b\d{10}\b`, Mask: "**********", Enabled: true, Severity: "high"},
			{Name: "DOB", Type: "dob", Pattern: `\b\d{1,2}/\d{1,2}/\d{4}\b`, Mask: "##/##/####", Enabled: true, Severity: "medium"},
		},
		Fields: []string{
			"nom", "prenom", "prenoms", "nom et prenoms", "nom complet", "name", "full_name",
			"telephone", "tel", "contact", "phone", "adresse", "address", "email",
			"date de naissance", "birth_date", "npi",
		},
	}
}
