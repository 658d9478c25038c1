package dlp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectorFindsIdentifiers(t *testing.T) {
	detector, err := NewDetector(DefaultRules())
	require.NoError(t, err)

	data := map[string]interface{}{
		"ID":         "P-001",
		"Nom":        "Houngbédji",
		"Prénoms":    "Afiavi",
		"Âge":        "55",
		"Créatinine": "18",
		"note":       "rappeler au +229 97 12 34 56 ou afiavi@example.bj, née le 12/03/1970",
		"record": map[string]interface{}{
			"fields": map[string]interface{}{"Téléphone": "97123456"},
		},
	}

	res := detector.Detect(data)
	require.True(t, res.Detected)
	require.Equal(t, []string{"dob", "email", "phone"}, res.Types)
	require.ElementsMatch(t, []string{"Nom", "Prénoms", "Téléphone"}, res.Fields)

	clean := detector.Sanitize(data)
	require.Equal(t, FieldMask, clean["Nom"])
	require.Equal(t, FieldMask, clean["Prénoms"])
	require.Equal(t, "55", clean["Âge"])
	require.Equal(t, "P-001", clean["ID"])
	require.NotContains(t, clean["note"], "97 12 34 56")
	require.NotContains(t, clean["note"], "afiavi@example.bj")
	require.NotContains(t, clean["note"], "12/03/1970")
	nested := clean["record"].(map[string]interface{})["fields"].(map[string]interface{})
	require.Equal(t, FieldMask, nested["Téléphone"])

	require.Equal(t, "Houngbédji", data["Nom"], "input is not modified")
}

func TestDetectorLeavesClinicalValues(t *testing.T) {
	detector, err := NewDetector(DefaultRules())
	require.NoError(t, err)
	data := map[string]interface{}{"creatinine": "21,5", "hemoglobin": 9.8, "Protéinurie": "> 3"}
	require.False(t, detector.Detect(data).Detected)
	require.Equal(t, data, detector.Sanitize(data))
}

func TestLoadRules(t *testing.T) {
	cfg, err := LoadRules("")
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Rules)

	path := filepath.Join(t.TempDir(), "dlp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("identifying_fields: [surnom]\n"), 0o600))
	cfg, err = LoadRules(path)
	require.NoError(t, err)
	require.Equal(t, []string{"surnom"}, cfg.Fields)

	require.NoError(t, os.WriteFile(path, []byte("rules: []\n"), 0o600))
	_, err = LoadRules(path)
	require.Error(t, err)

	_, err = NewDetector(RulesConfig{Rules: []Rule{{Name: "bad", Pattern: "(", Enabled: true}}})
	require.Error(t, err)
}
