package engine

import (
	"sort"

	"flowengine.evalgo.org/canonhash"
	"flowengine.evalgo.org/params"
)

// EngineVersion is folded into every step fingerprint so that a future
// change to the fingerprint shape itself invalidates previously computed
// fingerprints rather than silently colliding with them.
const EngineVersion = "flowengine/1"

// stepFingerprintInput is the canonicalized shape a step fingerprint is
// computed over. Field order here is irrelevant — canonhash sorts object
// keys — but the set of fields is exactly what INV-FP-STABLE allows in.
type stepFingerprintInput struct {
	EngineVersion  string     `json:"engine_version"`
	StepID         string     `json:"step_id"`
	InputHashes    []string   `json:"input_hashes"`
	Params         params.Bag `json:"params"`
	DefinitionHash string     `json:"definition_hash"`
}

// ComputeStepFingerprint hashes (engine_version, step_id, sorted
// input_hashes, runtime-derived-excluded params, definition_hash). It
// applies params.ExcludeRuntimeDerived to mergedParams itself, so callers
// pass the merged params as they are.
func ComputeStepFingerprint(stepID string, inputHashes []string, mergedParams params.Bag, definitionHash string) (string, error) {
	sortedHashes := append([]string(nil), inputHashes...)
	sort.Strings(sortedHashes)

	input := stepFingerprintInput{
		EngineVersion:  EngineVersion,
		StepID:         stepID,
		InputHashes:    sortedHashes,
		Params:         params.ExcludeRuntimeDerived(mergedParams),
		DefinitionHash: definitionHash,
	}
	return canonhash.HashValue(input)
}

// ComputeFlowFingerprint hashes the sorted set of a completed flow's
// per-step fingerprints. It deliberately does not re-fold definition_hash:
// every step fingerprint already commits to it, so doing so again would
// only double-count it without adding information.
func ComputeFlowFingerprint(stepFingerprints []string) (string, error) {
	sorted := append([]string(nil), stepFingerprints...)
	sort.Strings(sorted)
	return canonhash.HashValue(sorted)
}
