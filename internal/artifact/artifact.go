// Package artifact loads the trained artifacts (classifier, encoders,
// feature list and decision threshold) into an immutable Snapshot.
package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thisen-Ekanayake/Plutus/internal/domain"
	"github.com/Thisen-Ekanayake/Plutus/internal/model"
)

// Artifact names used in errors and logs.
const (
	NameModel       = "model"
	NameEncoders    = "encoders"
	NameFeatureList = "feature_list"
	NameThreshold   = "threshold"
)

// Snapshot is a mutually consistent set of artifacts. It is never mutated
// after Load returns and may be shared by any number of goroutines.
type Snapshot struct {
	Model       *model.Ensemble
	Encoders    map[string]*Encoder
	FeatureList []string
	Threshold   float64

	// Checksum identifies the exact artifact bytes.
	Checksum string
	Source   domain.ArtifactPaths
	LoadedAt time.Time
}

// Version returns the model version.
func (s *Snapshot) Version() string { return s.Model.Version }

// FeatureIndex returns the position of name in the feature list.
func (s *Snapshot) FeatureIndex(name string) (int, bool) {
	for i, f := range s.FeatureList {
		if f == name {
			return i, true
		}
	}
	return -1, false
}

// Load reads all four artifacts and checks them against each other.
// Either a complete snapshot is returned or an *domain.ArtifactLoadError.
func Load(paths domain.ArtifactPaths) (*Snapshot, error) {
	files := []struct {
		name string
		path string
		data []byte
	}{
		{name: NameModel, path: paths.Model},
		{name: NameEncoders, path: paths.Encoders},
		{name: NameFeatureList, path: paths.FeatureList},
		{name: NameThreshold, path: paths.Threshold},
	}
	for i := range files {
		data, err := os.ReadFile(files[i].path)
		if err != nil {
			return nil, &domain.ArtifactLoadError{Artifact: files[i].name, Path: files[i].path, Err: err}
		}
		files[i].data = data
	}

	snap, err := FromBytes(files[0].data, files[1].data, files[2].data, files[3].data)
	if err != nil {
		var le *domain.ArtifactLoadError
		if errors.As(err, &le) {
			switch le.Artifact {
			case NameModel:
				le.Path = paths.Model
			case NameEncoders:
				le.Path = paths.Encoders
			case NameFeatureList:
				le.Path = paths.FeatureList
			case NameThreshold:
				le.Path = paths.Threshold
			}
		}
		return nil, err
	}
	snap.Source = paths
	return snap, nil
}

// FromBytes builds a snapshot from raw artifact contents.
func FromBytes(modelData, encodersData, featureListData, thresholdData []byte) (*Snapshot, error) {
	ens, err := model.Parse(modelData)
	if err != nil {
		return nil, &domain.ArtifactLoadError{Artifact: NameModel, Err: err}
	}

	featureList, err := parseFeatureList(featureListData)
	if err != nil {
		return nil, &domain.ArtifactLoadError{Artifact: NameFeatureList, Err: err}
	}

	encoders, err := parseEncoders(encodersData)
	if err != nil {
		return nil, &domain.ArtifactLoadError{Artifact: NameEncoders, Err: err}
	}

	threshold, err := parseThreshold(thresholdData)
	if err != nil {
		return nil, &domain.ArtifactLoadError{Artifact: NameThreshold, Err: err}
	}

	if ens.NumFeatures != len(featureList) {
		return nil, &domain.ArtifactLoadError{
			Artifact: NameModel,
			Err:      fmt.Errorf("model expects %d features but feature list has %d", ens.NumFeatures, len(featureList)),
		}
	}
	inList := make(map[string]bool, len(featureList))
	for _, f := range featureList {
		inList[f] = true
	}
	for name := range encoders {
		if !inList[name] {
			return nil, &domain.ArtifactLoadError{
				Artifact: NameEncoders,
				Err:      fmt.Errorf("encoder for %q but the feature list does not contain it", name),
			}
		}
	}

	return &Snapshot{
		Model:       ens,
		Encoders:    encoders,
		FeatureList: featureList,
		Threshold:   threshold,
		Checksum:    checksum(modelData, encodersData, featureListData, thresholdData),
		LoadedAt:    time.Now().UTC(),
	}, nil
}

func parseFeatureList(data []byte) ([]string, error) {
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to decode feature list: %w", err)
	}
	if len(list) == 0 {
		return nil, errors.New("feature list is empty")
	}
	seen := make(map[string]bool, len(list))
	for i, f := range list {
		if f == "" {
			return nil, fmt.Errorf("feature %d has an empty name", i)
		}
		if seen[f] {
			return nil, fmt.Errorf("duplicate feature %q", f)
		}
		seen[f] = true
	}
	return list, nil
}

func parseEncoders(data []byte) (map[string]*Encoder, error) {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode encoders: %w", err)
	}
	encoders := make(map[string]*Encoder, len(raw))
	for feature, classes := range raw {
		enc, err := NewEncoder(feature, classes)
		if err != nil {
			return nil, err
		}
		encoders[feature] = enc
	}
	return encoders, nil
}

// parseThreshold accepts a bare number or {"threshold": x}.
func parseThreshold(data []byte) (float64, error) {
	var t float64
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Threshold *float64 `json:"threshold"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return 0, fmt.Errorf("failed to decode threshold: %w", err)
		}
		if wrapped.Threshold == nil {
			return 0, errors.New(`threshold object has no "threshold" field`)
		}
		t = *wrapped.Threshold
	} else if err := json.Unmarshal(trimmed, &t); err != nil {
		return 0, fmt.Errorf("failed to decode threshold: %w", err)
	}
	if !(t > 0 && t < 1) {
		return 0, fmt.Errorf("threshold must be in (0,1), got %v", t)
	}
	return t, nil
}

func checksum(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:", len(p))
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
