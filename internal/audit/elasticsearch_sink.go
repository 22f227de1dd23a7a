package audit

import "context"

// Indexer is satisfied by client.ESClient.
type Indexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

// ElasticsearchSink indexes events by ID, so a retried publish overwrites
// rather than duplicates.
type ElasticsearchSink struct {
	indexer Indexer
	index   string
}

func NewElasticsearchSink(indexer Indexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{indexer: indexer, index: index}
}

func (s *ElasticsearchSink) Publish(ctx context.Context, ev Event) error {
	return s.indexer.IndexDocument(ctx, s.index, ev.ID, ev)
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }
