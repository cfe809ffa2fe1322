package predict

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"witlab/internal/features"
)

func sampleRecord(t *testing.T) *features.Record {
	t.Helper()
	out, err := features.NewAssembler(features.PolicyZero).Assemble(features.Request{
		Mode:      features.ModeStandard,
		Formula:   "Cs0.05FA0.81MA0.14Pb1I2.82Br0.18",
		Process:   features.Process{ConcentrationPVK: features.DefaultConcentrationPVK},
		Additive1: features.Selection{Value: "MACl", Concentration: 2.5},
	})
	require.NoError(t, err)
	return out.Record
}

func predictServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predict", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var got map[string]float64
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, 2.5, got["Formula Additive 1_MACl"])
		assert.Equal(t, 1.73, got["Concentration PVK"])

		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPredict_MapsFourValues(t *testing.T) {
	srv := predictServer(t, http.StatusOK, `{"prediction":[23.1, 0.78, 1.12, 25.4]}`)
	c := NewClient(Config{BaseURL: srv.URL + "/", Timeout: time.Second})

	got, err := c.Predict(context.Background(), sampleRecord(t))
	require.NoError(t, err)
	assert.Equal(t, &Prediction{PCE: 23.1, FF: 0.78, Voc: 1.12, Jsc: 25.4}, got)

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"PCE":23.1,"FF":0.78,"Voc":1.12,"Jsc":25.4}`, string(data))
}

func TestPredict_LengthMismatch(t *testing.T) {
	for _, body := range []string{`{"prediction":[23.1, 0.78]}`, `{"prediction":[1,2,3,4,5]}`, `{}`} {
		srv := predictServer(t, http.StatusOK, body)
		got, err := NewClient(Config{BaseURL: srv.URL}).Predict(context.Background(), sampleRecord(t))

		assert.Nil(t, got, body)
		var se *ShapeError
		require.True(t, errors.As(err, &se), body)
	}
}

func TestPredict_ServiceError(t *testing.T) {
	srv := predictServer(t, http.StatusBadGateway, "model offline")
	_, err := NewClient(Config{BaseURL: srv.URL}).Predict(context.Background(), sampleRecord(t))

	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, "model offline", se.Body)
	assert.Contains(t, se.Error(), "502")
}

func TestPredict_BadJSON(t *testing.T) {
	srv := predictServer(t, http.StatusOK, `{"prediction":"soon"}`)
	_, err := NewClient(Config{BaseURL: srv.URL}).Predict(context.Background(), sampleRecord(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestPredict_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(Config{BaseURL: url}).Predict(context.Background(), sampleRecord(t))
	require.Error(t, err)
	var se *ServiceError
	assert.False(t, errors.As(err, &se))
}

func TestPredict_Deadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}).
		Predict(context.Background(), sampleRecord(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

// =============================================================================
// GENERATION
// =============================================================================

func writeTemplate(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(`[{"Formula PVK":"Cs0.05FA0.81MA0.14Pb1I2.82Br0.18","PCE":22.1}]`), 0644))
	return path
}

func TestGenerate_StripsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload_generate", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "3", r.FormValue("size"))

		f, hdr, err := r.FormFile("file")
		if assert.NoError(t, err) {
			defer f.Close()
			assert.Equal(t, "template.json", hdr.Filename)
		}

		io.WriteString(w, `[
			{"Formula PVK":"FA0.9Cs0.1Pb1I3","Annealed Time":30,"PCE":22.9,"FF":0.8,"Voc":1.1,"Jsc":25},
			{"Formula PVK":"MA1Pb1I3","Jsc":20,"Formula SAM 1":"2PACz"}
		]`)
	}))
	defer srv.Close()

	out, err := NewGenerator(Config{BaseURL: srv.URL}).Generate(context.Background(), writeTemplate(t, "template.json"), 3)
	require.NoError(t, err)
	require.Len(t, out, 2)

	for _, f := range out {
		for k := range metricKeys {
			_, ok := f.Get(k)
			assert.False(t, ok, "metric %s should be stripped", k)
		}
	}
	assert.Equal(t, "Formula PVK", out[0][0].Key)
	assert.Equal(t, "Annealed Time", out[0][1].Key)

	data, err := json.Marshal(out[1])
	require.NoError(t, err)
	assert.Equal(t, `{"Formula PVK":"MA1Pb1I3","Formula SAM 1":"2PACz"}`, string(data))
}

func TestGenerate_RejectsNonJSONTemplate(t *testing.T) {
	g := NewGenerator(Config{BaseURL: "http://unused"})

	_, err := g.Generate(context.Background(), writeTemplate(t, "template.csv"), 1)
	assert.ErrorIs(t, err, ErrNotJSON)

	_, err = g.DPO(context.Background(), "none.txt")
	assert.ErrorIs(t, err, ErrNotJSON)
}

func TestDPO_ReturnsTextVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload_dpo", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		io.WriteString(w, "recommended: MeO-2PACz 0.5 mg/mL")
	}))
	defer srv.Close()

	text, err := NewGenerator(Config{BaseURL: srv.URL}).DPO(context.Background(), writeTemplate(t, "t.JSON"))
	require.NoError(t, err)
	assert.Equal(t, "recommended: MeO-2PACz 0.5 mg/mL", text)

	dir := filepath.Join(t.TempDir(), "out")
	path, err := SaveResults(dir, text)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ResultsFile), path)
	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, text, string(saved))
}

func TestDPO_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewGenerator(Config{BaseURL: srv.URL}).DPO(context.Background(), writeTemplate(t, "t.json"))
	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}
