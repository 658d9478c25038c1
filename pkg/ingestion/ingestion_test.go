package ingestion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ai4ckd/platform/pkg/screening"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryExport = "\xEF\xBB\xBFID;Département;Âge;Sexe;Créatinine (mg/L);Personnels Médicaux/HTA;Personnels Médicaux/Diabète 2;Protéinurie\n" +
	"P-1;Littoral;55;M;18;Oui;Oui;> 3\n" +
	"P-2;Ouémé;40;F;8;Non;Non;\n" +
	";;;;;;;\n" +
	"P-3;Zou;abc;M;10;Non;Non;\n"

func newTestService(t *testing.T) (*Service, *screening.Engine) {
	t.Helper()
	engine, err := screening.New(screening.Options{Store: screening.NewMemoryStore()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return NewService(nil, nil, engine, 0), engine
}

func TestReadCSVSemicolonExport(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader(registryExport))
	require.NoError(t, err)
	require.Len(t, rows.Records, 3)
	assert.Equal(t, []int{2, 3, 5}, rows.Lines)

	first := rows.Records[0].Fields
	assert.Equal(t, "P-1", first["ID"])
	assert.Equal(t, "18", first["Créatinine (mg/L)"])
	assert.NotContains(t, rows.Records[1].Fields, "Protéinurie")
}

func TestReadCSVCommaAndQuotes(t *testing.T) {
	export := "patient_id,region,age,sex,creatinine,note\n" +
		"A-1,BJ-LI,61,F,12,\"dialyse, suivi\"\n"
	rows, err := ReadCSV(strings.NewReader(export))
	require.NoError(t, err)
	require.Len(t, rows.Records, 1)
	assert.Equal(t, "dialyse, suivi", rows.Records[0].Fields["note"])
}

func TestParseRejectsUnknownFormat(t *testing.T) {
	_, err := Parse("xml", []byte("<x/>"))
	require.True(t, IsValidationError(err))

	_, err = Parse(FormatJSON, []byte("{"))
	require.True(t, IsValidationError(err))
}

func TestExportPolicyAdmit(t *testing.T) {
	p := NewExportPolicy([]string{"CHU-Cotonou"}, nil)
	req, err := p.Admit(Request{Source: " CHU-Cotonou ", Format: "CSV", Body: []byte("a")})
	require.NoError(t, err)
	assert.Equal(t, "chu-cotonou", req.Source)
	assert.Equal(t, FormatCSV, req.Format)

	cases := []struct {
		name   string
		req    Request
		part   string
		reason error
	}{
		{"no facility", Request{Format: "csv", Body: []byte("a")}, "source", ErrUnregisteredFacility},
		{"unknown facility", Request{Source: "clinique-x", Format: "csv", Body: []byte("a")}, "source", ErrUnregisteredFacility},
		{"no format", Request{Source: "chu-cotonou", Body: []byte("a")}, "format", ErrUnsupportedFormat},
		{"spreadsheet", Request{Source: "chu-cotonou", Format: "xlsx", Body: []byte("a")}, "format", ErrUnsupportedFormat},
		{"blank", Request{Source: "chu-cotonou", Format: "csv", Body: []byte("  ")}, "body", ErrEmptyExport},
		{"bom only", Request{Source: "chu-cotonou", Format: "csv", Body: []byte("\xEF\xBB\xBF\n")}, "body", ErrEmptyExport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Admit(tc.req)
			require.True(t, IsValidationError(err))
			require.ErrorIs(t, err, tc.reason)
			var ve ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.part, ve.Part)
			assert.True(t, strings.HasPrefix(err.Error(), tc.part+": "), err.Error())
		})
	}
}

func TestExportPolicyOpenToAnyFacility(t *testing.T) {
	p := NewExportPolicy(nil, []string{"json"})
	_, err := p.Admit(Request{Source: "dhis2", Format: "json", Body: []byte("[]")})
	require.NoError(t, err)
	_, err = p.Admit(Request{Source: "dhis2", Format: "csv", Body: []byte("a")})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestImportRecordsCanonicalFacility(t *testing.T) {
	svc, _ := newTestService(t)
	job, err := svc.Import(context.Background(), Request{Source: "CHU-Cotonou", Format: "CSV", Body: []byte(registryExport)})
	require.NoError(t, err)
	assert.Equal(t, "chu-cotonou", job.Source)
	assert.Equal(t, FormatCSV, job.Format)

	_, err = svc.Import(context.Background(), Request{Source: "chu-cotonou", Format: FormatCSV, Body: []byte("\n\n")})
	require.ErrorIs(t, err, ErrEmptyExport)
}

func TestImportSubmitsRows(t *testing.T) {
	svc, engine := newTestService(t)
	ctx := context.Background()

	job, err := svc.Import(ctx, Request{Source: "chu-cotonou", Format: FormatCSV, Body: []byte(registryExport)})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 3, job.Total)
	assert.Equal(t, 2, job.Accepted)
	assert.Equal(t, 1, job.Rejected)
	require.Len(t, job.RowErrors, 1)
	// The delimiter-only row is skipped; P-3 is still reported on line 5.
	assert.Contains(t, job.RowErrors["5"], "age")

	top := engine.TopUrgent(0)
	require.Len(t, top, 2)
	assert.Equal(t, "P-1", top[0].PatientID)
	assert.Equal(t, "BJ-LI", top[0].Region)
	assert.Equal(t, 26, top[0].Score)

	stored, err := svc.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Accepted, stored.Accepted)

	_, err = svc.Status(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestImportJSON(t *testing.T) {
	svc, engine := newTestService(t)
	body := `[{"patient_id":"J-1","region":"BJ-BO","fields":{"age":70,"sex":"F","creatinine":2.6,"creatinine_unit":"mg/dL"}},
	          {"patient_id":"J-2","region":"Borgou","age":35,"sex":"M","creatinine":0.9,"creatinine_unit":"mg/dL"},
	          {"patient_id":"J-3","region":"Borgou","age":300,"sex":"M","creatinine":0.9,"creatinine_unit":"mg/dL"}]`
	job, err := svc.Import(context.Background(), Request{Source: "dhis2", Format: FormatJSON, Body: []byte(body)})
	require.NoError(t, err)
	assert.Equal(t, 2, job.Accepted)
	assert.Equal(t, 1, job.Rejected)
	assert.Contains(t, job.RowErrors["3"], "age")
	assert.Equal(t, 2, engine.Totals().Patients)
}

func TestHTTPImport(t *testing.T) {
	svc, _ := newTestService(t)
	router := mux.NewRouter()
	NewHTTPHandler(svc, 1<<20).Register(router)

	req := httptest.NewRequest(http.MethodPost, "/imports?source=chu-cotonou", strings.NewReader(registryExport))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted":2`)

	req = httptest.NewRequest(http.MethodPost, "/imports?source=chu-cotonou", strings.NewReader(registryExport))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "format is required")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/imports/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
