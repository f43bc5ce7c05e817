package models

// Status describes the stores behind the service.
type Status struct {
	Notes             int      `json:"notes"`
	IndexEntries      int      `json:"index_entries"`
	IndexType         string   `json:"index_type"`
	Dimensions        int      `json:"dimensions"`
	EmbeddingProvider string   `json:"embedding_provider"`
	EmbeddingModel    string   `json:"embedding_model,omitempty"`
	Consistent        bool     `json:"consistent"`
	IndexOnly         []string `json:"index_only,omitempty"`
	RepositoryOnly    []string `json:"repository_only,omitempty"`
	DiskUsageBytes    int64    `json:"disk_usage_bytes"`
}
