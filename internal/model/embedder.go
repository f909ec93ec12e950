package model

import (
	"context"

	"github.com/harunnryd/medtriage/internal/retrieval"
)

// RouterEmbedder embeds through the router with a pinned embedding model.
func RouterEmbedder(router ModelRouter, modelName string) retrieval.Embedder {
	return retrieval.EmbedderFunc(func(ctx context.Context, text string) ([]float32, error) {
		return router.RouteEmbedding(ctx, modelName, text)
	})
}
