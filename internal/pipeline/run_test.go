package pipeline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/newstoss/internal/db"
	payloadschema "horse.fit/newstoss/schema"
)

func TestRunOnceFullCycle(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addArticle(1, "KR", "Yonhap", "Seoul rates decision today", vecLit(1, 0, 0))
	store.addArticle(2, "KR", "KBS", "Korea lifts base rate", vecLit(0.95, 0.05, 0))
	store.addArticle(3, "KR", "MBC", "Won firms after hike", vecLit(0.95, 0, 0.05))
	store.addArticle(4, "US", "AP", "Senate confirms nominee", vecLit(1, 0, 0))
	store.addArticle(5, "US", "NYT", "Fed pick approved", vecLit(0.95, 0.05, 0))
	store.addArticle(6, "US", "WSJ", "Markets cheer vote", vecLit(0.95, 0, 0.05))
	store.addArticle(7, "DE", "DW", "Bundestag budget vote", vecLit(1, 0, 0))
	store.addArticle(8, "DE", "FAZ", "ECB watchers react", vecLit(0.95, 0.05, 0))
	store.addArticle(9, "DE", "Spiegel", "Bund yields fall", vecLit(0.95, 0, 0.05))

	labeler := &fakeLabeler{label: func(titles []string) (payloadschema.TopicLabel, error) {
		return payloadschema.TopicLabel{TopicName: titles[0], Category: "Economy"}, nil
	}}
	svc := NewService(store, testSettings(), zerolog.Nop(), WithLabelers(labeler, nil))

	result, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if result.Cluster.Countries != 3 || result.Cluster.Totals.Created != 3 {
		t.Fatalf("unexpected cluster result: %+v", result.Cluster)
	}
	if result.Merge.Created != 1 {
		t.Fatalf("unexpected merge result: %+v", result.Merge)
	}
	if len(result.Dedup) != 2 || result.Dedup[0].TopicsMerged != 0 || result.Dedup[1].TopicsMerged != 0 {
		t.Fatalf("distinct topics must survive deduplication: %+v", result.Dedup)
	}
	if result.Publish.PublishedTopics != 3 || result.Publish.PublishedMegatopics != 1 {
		t.Fatalf("unexpected publish result: %+v", result.Publish)
	}
	for id := int64(1); id <= 9; id++ {
		a := store.articles[id]
		if a.NationalID == 0 || a.GlobalID == 0 {
			t.Fatalf("article %d not fully assigned: national=%d global=%d", id, a.NationalID, a.GlobalID)
		}
	}
	if len(store.topics[db.KindGlobal]) != 1 {
		t.Fatalf("expected one megatopic, got %d", len(store.topics[db.KindGlobal]))
	}
}
