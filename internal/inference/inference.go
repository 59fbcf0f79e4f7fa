// Package inference wraps the pre-trained lung-cancer risk classifier.
package inference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"gopkg.in/yaml.v3"
)

// FeatureOrder is the column order the model was trained on.
var FeatureOrder = []string{
	"gender", "age", "smoking", "yellow_fingers", "anxiety", "peer_pressure",
	"chronic_disease", "fatigue", "allergy", "wheezing", "alcohol_consuming",
	"coughing", "shortness_of_breath", "swallowing_difficulty", "chest_pain",
}

var ErrBadPrediction = errors.New("classifier returned a value outside {0,1}")

// Classifier maps one feature vector to 0 (low risk) or 1 (high risk).
type Classifier interface {
	Predict(ctx context.Context, features []int) (int, error)
}

// LinearModel is a logistic-regression artifact:
// p = sigmoid(intercept + sum(coefficients[i]*x[i])), class 1 when p >= threshold.
type LinearModel struct {
	Name         string    `yaml:"name" json:"name"`
	Features     []string  `yaml:"features" json:"features"`
	Coefficients []float64 `yaml:"coefficients" json:"coefficients"`
	Intercept    float64   `yaml:"intercept" json:"intercept"`
	Threshold    float64   `yaml:"threshold" json:"threshold"`
}

// LoadLinearModel reads a YAML or JSON model file. The returned model is not
// modified afterwards and can be shared between requests.
func LoadLinearModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return ParseLinearModel(data)
}

// ParseLinearModel decodes and validates a model document.
func ParseLinearModel(data []byte) (*LinearModel, error) {
	var m LinearModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if len(m.Coefficients) != len(FeatureOrder) {
		return nil, fmt.Errorf("model has %d coefficients, want %d", len(m.Coefficients), len(FeatureOrder))
	}
	if len(m.Features) > 0 {
		if len(m.Features) != len(FeatureOrder) {
			return nil, fmt.Errorf("model lists %d features, want %d", len(m.Features), len(FeatureOrder))
		}
		for i, f := range m.Features {
			if f != FeatureOrder[i] {
				return nil, fmt.Errorf("model feature %d is %q, want %q", i, f, FeatureOrder[i])
			}
		}
	}
	if m.Threshold == 0 {
		m.Threshold = 0.5
	}
	if m.Threshold <= 0 || m.Threshold >= 1 {
		return nil, fmt.Errorf("model threshold %v out of (0,1)", m.Threshold)
	}
	return &m, nil
}

// Probability returns the model's estimate of class 1.
func (m *LinearModel) Probability(features []int) (float64, error) {
	if len(features) != len(m.Coefficients) {
		return 0, fmt.Errorf("got %d features, want %d", len(features), len(m.Coefficients))
	}
	z := m.Intercept
	for i, x := range features {
		z += m.Coefficients[i] * float64(x)
	}
	return 1 / (1 + math.Exp(-z)), nil
}

func (m *LinearModel) Predict(_ context.Context, features []int) (int, error) {
	p, err := m.Probability(features)
	if err != nil {
		return 0, err
	}
	if p >= m.Threshold {
		return 1, nil
	}
	return 0, nil
}

// RemoteClassifier calls an HTTP scoring service that hosts the model.
type RemoteClassifier struct {
	client   *resty.Client
	endpoint string
}

func NewRemoteClassifier(endpoint string, timeout time.Duration) *RemoteClassifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(1).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &RemoteClassifier{client: client, endpoint: endpoint}
}

type scoreRequest struct {
	Features []int `json:"features"`
}

type scoreResponse struct {
	Prediction *int `json:"prediction"`
}

func (c *RemoteClassifier) Predict(ctx context.Context, features []int) (int, error) {
	var out scoreResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(scoreRequest{Features: features}).
		SetResult(&out).
		Post(c.endpoint)
	if err != nil {
		return 0, fmt.Errorf("scoring service: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("scoring service: status %d", resp.StatusCode())
	}
	if out.Prediction == nil {
		return 0, fmt.Errorf("scoring service: %w", ErrBadPrediction)
	}
	if p := *out.Prediction; p != 0 && p != 1 {
		return 0, fmt.Errorf("scoring service returned %d: %w", p, ErrBadPrediction)
	}
	return *out.Prediction, nil
}
