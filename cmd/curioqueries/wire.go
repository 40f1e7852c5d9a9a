package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"curioqueries/internal/chunker"
	"curioqueries/internal/config"
	"curioqueries/internal/domain"
	"curioqueries/internal/embedding/openai"
	"curioqueries/internal/embedding/tfidf"
	"curioqueries/internal/extract"
	"curioqueries/internal/qa/cache"
	"curioqueries/internal/qa/huggingface"
	"curioqueries/internal/qa/lexical"
	"curioqueries/internal/qa/llm"
	"curioqueries/internal/service"
	"curioqueries/internal/summarizer"
	"curioqueries/internal/vectorstore/memory"
	"curioqueries/internal/vectorstore/qdrant"
)

// components holds everything built from the config; close releases the cache.
type components struct {
	registry *extract.Registry
	service  *service.QAServiceImpl
	close    func() error
}

func build(cfg *config.AppConfig, logger *zap.Logger) (*components, error) {
	model, err := buildModel(cfg, logger)
	if err != nil {
		return nil, err
	}

	closeFn := func() error { return nil }
	if cfg.Cache.Enabled {
		// badger locks its directory, so a second instance runs uncached
		store, err := cache.Open(cfg.Cache.Path)
		if err != nil {
			logger.Warn("answer cache unavailable, continuing without it",
				zap.String("path", cfg.Cache.Path), zap.Error(err))
		} else {
			model = cache.NewModel(model, store, time.Duration(cfg.Cache.TTLHours)*time.Hour, logger)
			closeFn = store.Close
		}
	}

	ch, err := buildChunker(cfg.Chunker)
	if err != nil {
		_ = closeFn()
		return nil, err
	}

	registry := extract.NewRegistry()
	svc := service.NewQAService(
		registry,
		ch,
		model,
		summarizer.NewFrequencySummarizer(cfg.Summarizer.MaxRunes),
		service.Settings{
			TopK:             cfg.Answers.TopK,
			MinScore:         cfg.Answers.MinScore,
			MaxChunks:        cfg.Retriever.MaxChunks,
			Workers:          cfg.Workers,
			SummarySentences: cfg.Summarizer.MaxSentences,
		},
		service.WithLogger(logger),
		service.WithRetrieval(buildRetrieval(cfg.Retriever, logger)),
	)
	logger.Debug("components ready",
		zap.String("model", model.Name()),
		zap.String("chunker", cfg.Chunker.Type),
		zap.Bool("cache", cfg.Cache.Enabled))
	return &components{registry: registry, service: svc, close: closeFn}, nil
}

func buildModel(cfg *config.AppConfig, logger *zap.Logger) (domain.QAModel, error) {
	switch cfg.Model.Type {
	case "huggingface", "":
		hf := cfg.Model.HuggingFace
		if hf == nil {
			hf = &config.HuggingFaceConfig{}
		}
		return huggingface.NewClient(huggingface.Config{
			BaseURL:      hf.BaseURL,
			APIKeyEnv:    hf.APIKeyEnv,
			Model:        hf.Model,
			MaxAnswerLen: hf.MaxAnswerLen,
			MaxRetries:   hf.MaxRetries,
			Timeout:      time.Duration(hf.TimeoutSecs) * time.Second,
			Logger:       logger,
		}), nil
	case "llm":
		lc := cfg.Model.LLM
		if lc == nil {
			lc = &config.LLMConfig{}
		}
		reader, err := llm.New(llm.Config{
			Host:      lc.Host,
			Model:     lc.Model,
			APIKeyEnv: lc.APIKeyEnv,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("llm model init failed: %w", err)
		}
		return reader, nil
	case "lexical":
		return lexical.New(), nil
	default:
		return nil, fmt.Errorf("unknown model: %s", cfg.Model.Type)
	}
}

func buildChunker(cfg config.ChunkerConfig) (domain.Chunker, error) {
	switch cfg.Type {
	case "window", "":
		return chunker.NewWindowChunker(cfg.Size, cfg.Overlap), nil
	case "sentence":
		return chunker.NewSentenceChunker(cfg.SentencesPerChunk, cfg.OverlapSentences), nil
	case "recursive":
		return chunker.NewRecursiveChunker(cfg.Size, cfg.Overlap), nil
	default:
		return nil, fmt.Errorf("unknown chunker: %s", cfg.Type)
	}
}

// buildRetrieval returns factories for the embedder and store used to
// pre-select chunks when retriever.max_chunks is set.
func buildRetrieval(cfg config.RetrieverConfig, logger *zap.Logger) (func() domain.Embedder, func() domain.VectorStore) {
	newEmbedder := func() domain.Embedder { return tfidf.NewEmbedder() }
	if cfg.Embedder.Type == "openai" {
		oc := cfg.Embedder.OpenAI
		if oc == nil {
			oc = &config.OpenAIEmbedderConfig{}
		}
		// one client across questions so repeated chunks are embedded once
		client := openai.NewClient(openai.Config{
			BaseURL:   oc.BaseURL,
			APIKeyEnv: oc.APIKeyEnv,
			Model:     oc.Model,
			Timeout:   time.Duration(oc.TimeoutSecs) * time.Second,
			Logger:    logger,
		})
		newEmbedder = func() domain.Embedder { return client }
	}

	newStore := func() domain.VectorStore { return memory.NewStorage(memory.WithMinScore(0)) }
	if cfg.Store.Type == "qdrant" {
		qc := cfg.Store.Qdrant
		if qc == nil {
			qc = &config.QdrantConfig{}
		}
		newStore = func() domain.VectorStore {
			return qdrant.NewStorage(qdrant.Config{
				URL:        qc.URL,
				APIKeyEnv:  qc.APIKeyEnv,
				Collection: qc.Collection,
				Timeout:    time.Duration(qc.TimeoutSecs) * time.Second,
			})
		}
	}
	return newEmbedder, newStore
}

func extractFormats() []string {
	return extract.NewRegistry().SupportedFormats()
}
