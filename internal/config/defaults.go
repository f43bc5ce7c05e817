package config

import "time"

// DefaultTemperature is the generation temperature used when none is configured.
const DefaultTemperature float32 = 0.2

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.NotesBackend == "" {
		cfg.Storage.NotesBackend = "json"
	}
	if cfg.Storage.NotesPath == "" {
		if cfg.Storage.NotesBackend == "sqlite" {
			cfg.Storage.NotesPath = "./data/notes.db"
		} else {
			cfg.Storage.NotesPath = "./data/notes.json"
		}
	}
	if cfg.Storage.IndexType == "" {
		cfg.Storage.IndexType = "sqlite"
	}
	if cfg.Storage.IndexPath == "" {
		if cfg.Storage.IndexType == "file" {
			cfg.Storage.IndexPath = "./data/index.bin"
		} else {
			cfg.Storage.IndexPath = "./data/index.db"
		}
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case "gemini":
			cfg.Embedding.Model = "text-embedding-004"
		default:
			cfg.Embedding.Model = "text-embedding-3-small"
		}
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "openai"
	}
	if cfg.Generation.Model == "" {
		switch cfg.Generation.Provider {
		case "gemini":
			cfg.Generation.Model = "gemini-2.5-flash"
		default:
			cfg.Generation.Model = "gpt-4.1-mini"
		}
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 60 * time.Second
	}
	if cfg.Retrieval.DefaultTopK == 0 {
		cfg.Retrieval.DefaultTopK = 5
	}
	if cfg.Ingest.Directory == "" {
		cfg.Ingest.Directory = "./notes"
	}
	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = []string{".md", ".txt"}
	}
}
