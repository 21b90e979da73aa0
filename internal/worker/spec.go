package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"harvest/internal/config"
)

// Spec is everything a worker process needs to start. The supervisor writes
// it as JSON to the child's stdin.
type Spec struct {
	WorkerID string        `json:"worker_id"`
	StoreURL string        `json:"store_url"`
	UserIDs  []string      `json:"user_ids"`
	HTTPAddr string        `json:"http_addr"`
	Config   config.Config `json:"config"`
}

func (s Spec) Validate() error {
	if s.WorkerID == "" {
		return errors.New("worker spec: worker_id is required")
	}
	if s.StoreURL == "" {
		return errors.New("worker spec: store_url is required")
	}
	return nil
}

func EncodeSpec(w io.Writer, s Spec) error {
	return json.NewEncoder(w).Encode(s)
}

func DecodeSpec(r io.Reader) (Spec, error) {
	var s Spec
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return Spec{}, fmt.Errorf("decode worker spec: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Spec{}, err
	}
	return s, nil
}
