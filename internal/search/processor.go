package search

import "github.com/hyperjump/secondbrain/internal/models"

// ProcessQuery validates the request and applies the default top_k.
func ProcessQuery(req *models.AskRequest, defaultTopK int) error {
	if req == nil {
		req = &models.AskRequest{}
	}
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return req.Normalize(defaultTopK)
}
