package run

import (
	"crypto/sha256"
	"fmt"

	"gopade/domain/core"
)

// CodeVersion is stamped into every manifest.
const CodeVersion = "0.3.0"

// Manifest identifies a run and everything needed to replay it.
type Manifest struct {
	RunID       core.RunID      `json:"run_id"`
	MatrixHash  core.MatrixHash `json:"matrix_hash"`
	SchemaHash  core.SchemaHash `json:"schema_hash"`
	ConfigHash  core.ConfigHash `json:"config_hash"`
	Seed        int64           `json:"seed"`
	CodeVersion string          `json:"code_version"`
	Fingerprint core.Hash       `json:"fingerprint"`
	CreatedAt   core.Timestamp  `json:"created_at"`
}

// NewManifest stamps a manifest for a run.
func NewManifest(runID core.RunID, matrixHash core.MatrixHash, schemaHash core.SchemaHash, configHash core.ConfigHash, seed int64) Manifest {
	return Manifest{
		RunID:       runID,
		MatrixHash:  matrixHash,
		SchemaHash:  schemaHash,
		ConfigHash:  configHash,
		Seed:        seed,
		CodeVersion: CodeVersion,
		Fingerprint: ComputeFingerprint(matrixHash, schemaHash, configHash, seed, CodeVersion),
		CreatedAt:   core.Now(),
	}
}

// ComputeFingerprint hashes the determinism tuple. Two runs with equal
// fingerprints must produce bit-identical results.
func ComputeFingerprint(matrixHash core.MatrixHash, schemaHash core.SchemaHash, configHash core.ConfigHash, seed int64, codeVersion string) core.Hash {
	data := fmt.Sprintf("matrix:%s|schema:%s|config:%s|seed:%d|code:%s",
		matrixHash, schemaHash, configHash, seed, codeVersion)
	hash := sha256.Sum256([]byte(data))
	return core.Hash(fmt.Sprintf("%x", hash))
}

// Validate checks if the manifest is complete
func (m Manifest) Validate() error {
	if core.ID(m.RunID).IsEmpty() {
		return core.NewValidationError("manifest", "run_id cannot be empty")
	}
	if m.MatrixHash == "" {
		return core.NewValidationError("manifest", "matrix_hash cannot be empty")
	}
	if m.ConfigHash == "" {
		return core.NewValidationError("manifest", "config_hash cannot be empty")
	}
	if m.CodeVersion == "" {
		return core.NewValidationError("manifest", "code_version cannot be empty")
	}
	return nil
}
