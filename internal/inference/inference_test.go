package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ones(v int) []int {
	out := make([]int, len(FeatureOrder))
	for i := range out {
		out[i] = v
	}
	return out
}

func TestLoadLinearModel_RepoArtifact(t *testing.T) {
	m, err := LoadLinearModel(filepath.Join("..", "..", "models", "lung_cancer.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "lung-cancer-risk-lr", m.Name)

	ctx := context.Background()
	// 1 = "no" for every symptom in the survey encoding, 2 = "yes"
	noSymptoms := ones(1)
	noSymptoms[1] = 60
	got, err := m.Predict(ctx, noSymptoms)
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	allSymptoms := ones(2)
	allSymptoms[0], allSymptoms[1] = 0, 60
	got, err = m.Predict(ctx, allSymptoms)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestParseLinearModel_JSON(t *testing.T) {
	coef := make([]float64, len(FeatureOrder))
	coef[2] = 10 // smoking
	doc, err := json.Marshal(map[string]any{"coefficients": coef, "intercept": -5})
	require.NoError(t, err)

	m, err := ParseLinearModel(doc)
	require.NoError(t, err)
	assert.Equal(t, 0.5, m.Threshold)

	x := ones(0)
	p, err := m.Probability(x)
	require.NoError(t, err)
	assert.Less(t, p, 0.5)

	x[2] = 1
	got, err := m.Predict(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestParseLinearModel_Invalid(t *testing.T) {
	_, err := ParseLinearModel([]byte(`coefficients: [1, 2]`))
	assert.ErrorContains(t, err, "coefficients")

	wrongOrder := "features: [age, gender, smoking, yellow_fingers, anxiety, peer_pressure, chronic_disease, fatigue, allergy, wheezing, alcohol_consuming, coughing, shortness_of_breath, swallowing_difficulty, chest_pain]\n" +
		"coefficients: [0,0,0,0,0,0,0,0,0,0,0,0,0,0,0]\n"
	_, err = ParseLinearModel([]byte(wrongOrder))
	assert.ErrorContains(t, err, `"age"`)

	_, err = ParseLinearModel([]byte("coefficients: [0,0,0,0,0,0,0,0,0,0,0,0,0,0,0]\nthreshold: 1.5\n"))
	assert.ErrorContains(t, err, "threshold")

	_, err = LoadLinearModel(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLinearModel_WrongLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.yaml")
	require.NoError(t, os.WriteFile(path, []byte("coefficients: [0,0,0,0,0,0,0,0,0,0,0,0,0,0,0]\n"), 0o600))
	m, err := LoadLinearModel(path)
	require.NoError(t, err)
	_, err = m.Predict(context.Background(), []int{1, 2, 3})
	assert.Error(t, err)
}

func TestRemoteClassifier(t *testing.T) {
	var got scoreRequest
	reply := `{"prediction":1}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	defer srv.Close()

	c := NewRemoteClassifier(srv.URL+"/predict", 0)
	p, err := c.Predict(context.Background(), ones(1))
	require.NoError(t, err)
	assert.Equal(t, 1, p)
	assert.Equal(t, ones(1), got.Features)

	reply = `{"prediction":3}`
	_, err = c.Predict(context.Background(), ones(1))
	assert.ErrorIs(t, err, ErrBadPrediction)

	reply = `{}`
	_, err = c.Predict(context.Background(), ones(1))
	assert.ErrorIs(t, err, ErrBadPrediction)
}

func TestRemoteClassifier_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewRemoteClassifier(srv.URL, 0).Predict(context.Background(), ones(0))
	assert.ErrorContains(t, err, "status 503")
}
