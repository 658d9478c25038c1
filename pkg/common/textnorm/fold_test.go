package textnorm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFold(t *testing.T) {
	require.Equal(t, "oueme", Fold("Ouémé"))
	require.Equal(t, "oueme", Fold("  OUEME "))
	require.Equal(t, "creatinine (mg/l)", Fold("Créatinine   (mg/L)"))
	require.Equal(t, "personnels medicaux/diabete 2", Fold("Personnels Médicaux/Diabète 2"))
	require.Equal(t, "µmol/l", Fold("µmol/L"))
}
