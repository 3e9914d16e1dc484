// Copyright 2024 LatentFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"context"
	"time"

	"github.com/SiglumProject/busytex-lazy/internal/store"
)

// Confidence levels a Decision is reported with (§4.4).
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Decision is the Selector's output: which engine to use and why.
type Decision struct {
	Engine     string
	Reason     string
	Confidence string
}

// legacyFontExpansionFlag names the learned flag consulted at decision
// step 4.
const legacyFontExpansionFlag = "triggers-legacy-font-expansion"

// Selector is the Engine Selector component (§4.4).
type Selector struct {
	Store *store.Store
}

// New constructs a Selector backed by st.
func New(st *store.Store) *Selector {
	return &Selector{Store: st}
}

// Select runs the six-step decision order (first match wins) against
// packages and source, using fingerprint to look up learned statistics and
// flags.
func (s *Selector) Select(ctx context.Context, packages []string, source string, fingerprint string) (Decision, error) {
	// 1. Hard requirement.
	if eng, reason, ok := hardRequirementMatch(packages, source); ok {
		return Decision{Engine: eng, Reason: reason, Confidence: ConfidenceHigh}, nil
	}

	statsByEngine := make(map[string]store.EngineStats)
	for _, eng := range []string{PDFLatex, XeLatex, LuaLatex} {
		if st, ok, err := s.Store.DB.GetStats(ctx, fingerprint, eng); err != nil {
			return Decision{}, err
		} else if ok {
			statsByEngine[eng] = st
		}
	}

	// 2. Historical best.
	if best, ok := bestHistorical(statsByEngine); ok {
		return Decision{Engine: best, Reason: "historical best for this preamble", Confidence: ConfidenceHigh}, nil
	}

	// 3. Avoidance.
	if avoided, ok := avoidanceSet(statsByEngine); ok {
		for _, eng := range []string{PDFLatex, XeLatex, LuaLatex} {
			if _, bad := avoided[eng]; !bad {
				return Decision{Engine: eng, Reason: "avoiding engines with poor historical success", Confidence: ConfidenceMedium}, nil
			}
		}
	}

	// 4. Learned flag.
	if flagged, ok, err := s.Store.DB.GetFlag(ctx, fingerprint, legacyFontExpansionFlag); err != nil {
		return Decision{}, err
	} else if ok && flagged {
		return Decision{Engine: XeLatex, Reason: "legacy font expansion previously triggered on pdflatex", Confidence: ConfidenceHigh}, nil
	}

	// 5. Soft preference.
	if softPreferenceMatch(packages) {
		return Decision{Engine: XeLatex, Reason: "soft preference package present", Confidence: ConfidenceMedium}, nil
	}

	// 6. Default.
	return Decision{Engine: PDFLatex, Reason: "default", Confidence: ConfidenceLow}, nil
}

// bestHistorical implements decision step 2: among engines with
// compileCount >= 2 and successRate > 0.5, the minimum mean duration wins.
func bestHistorical(byEngine map[string]store.EngineStats) (string, bool) {
	var best string
	var bestMean float64
	found := false
	for eng, st := range byEngine {
		if st.SampleCount < 2 || st.SuccessRate <= 0.5 {
			continue
		}
		if !found || st.MeanDuration < bestMean {
			best = eng
			bestMean = st.MeanDuration
			found = true
		}
	}
	return best, found
}

// avoidanceSet implements decision step 3: engines for which we only have
// low-success statistics.
func avoidanceSet(byEngine map[string]store.EngineStats) (map[string]struct{}, bool) {
	if len(byEngine) == 0 {
		return nil, false
	}
	bad := make(map[string]struct{})
	for eng, st := range byEngine {
		if st.SuccessRate <= 0.5 {
			bad[eng] = struct{}{}
		}
	}
	if len(bad) == 0 {
		return nil, false
	}
	return bad, true
}

// RecordResult folds one compile's outcome into the fingerprint's running
// statistics (§4.4 "Statistics updates").
func (s *Selector) RecordResult(ctx context.Context, fingerprint, engineName string, success bool, timeMs float64, triggeredLegacyFontExpansion bool) error {
	nowMs := time.Now().UnixMilli()
	if err := s.Store.DB.UpdateStats(ctx, fingerprint, engineName, timeMs, success, nowMs); err != nil {
		return err
	}
	if triggeredLegacyFontExpansion && engineName == PDFLatex {
		if err := s.Store.DB.PutFlag(ctx, fingerprint, legacyFontExpansionFlag, true); err != nil {
			return err
		}
	}
	return nil
}
