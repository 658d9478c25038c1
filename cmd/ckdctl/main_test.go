package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const export = "ID;Département;Âge;Sexe;Créatinine (mg/L);Personnels Médicaux/HTA;Personnels Médicaux/Diabète 2;Protéinurie\n" +
	"P-1;Littoral;55;M;18;Oui;Oui;> 3\n" +
	"P-2;Ouémé;40;F;8;Non;Non;\n"

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func writeExport(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.csv")
	require.NoError(t, os.WriteFile(path, []byte(export), 0o600))
	return path
}

func TestScoreCommand(t *testing.T) {
	out := run(t, "score", writeExport(t), "--top", "1")
	require.Contains(t, out, "2 rows, 2 scored, 0 rejected")
	require.Contains(t, out, "P-1")
	require.Contains(t, out, "G3b")
	require.NotContains(t, out, "P-2")
}

func TestReportCommand(t *testing.T) {
	target := filepath.Join(t.TempDir(), "out.xlsx")
	out := run(t, "report", writeExport(t), "-o", target)
	require.Contains(t, out, "report written to")

	f, err := excelize.OpenFile(target)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Priority Queue")
	require.NoError(t, err)
	require.Len(t, rows, 3)
}

func TestRegionsCommand(t *testing.T) {
	out := run(t, "regions", "--search", "porto")
	require.Contains(t, out, "BJ-OU")
	require.NotContains(t, out, "BJ-AL")
}
