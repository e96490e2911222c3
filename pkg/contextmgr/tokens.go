// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package contextmgr

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackBytesPerToken approximates token counts when the encoder is
// unavailable (e.g. no cached encoding files and no network).
const fallbackBytesPerToken = 4

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// Estimator counts tokens for gating decisions. Counts are approximate
// and provider-agnostic; gating only needs a monotonic estimate.
type Estimator struct{}

// NewEstimator returns the shared estimator. The cl100k_base encoding
// is loaded once per process.
func NewEstimator() *Estimator {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return &Estimator{}
}

// EstimateTokens returns the approximate token count of text.
func (e *Estimator) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return (len(text) + fallbackBytesPerToken - 1) / fallbackBytesPerToken
}
